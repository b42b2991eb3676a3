package config

import (
	"reflect"
	"testing"

	"github.com/canectors/basic-cleaning/internal/artifact"
	"github.com/canectors/basic-cleaning/pkg/step"
)

func TestLoad(t *testing.T) {
	v, err := NewSettings(newFlags(t, "--metrics-file", "/tmp/metrics/basic_cleaning.prom"))
	if err != nil {
		t.Fatal(err)
	}
	st, result := Load(writeFile(t, "step.yaml", yamlStep), v)
	if !result.IsValid() {
		t.Fatalf("Load() errors = %v", result.AllErrors())
	}
	if result.Format != FormatYAML {
		t.Errorf("Format = %q", result.Format)
	}

	if st.Name != "clean sample" || st.ID != DefaultStepID || st.JobType != step.DefaultJobType || st.WorkDir != DefaultWorkDir {
		t.Errorf("step = %+v", st)
	}
	if st.Filter.Type != "priceRange" || st.Filter.Config["maxPrice"] != 350 {
		t.Errorf("filter = %+v", st.Filter)
	}
	if st.Output.Config["description"] != "Data with outliers removed" {
		t.Errorf("output = %+v", st.Output)
	}
	wantStore := &step.StoreConfig{Type: artifact.StoreLocal, Root: artifact.DefaultLocalRoot}
	if !reflect.DeepEqual(st.Store, wantStore) {
		t.Errorf("store = %+v, want %+v", st.Store, wantStore)
	}
	if st.Metrics == nil || st.Metrics.Textfile != "/tmp/metrics/basic_cleaning.prom" {
		t.Errorf("metrics = %+v", st.Metrics)
	}
}

func TestLoadFlagsOnly(t *testing.T) {
	v, err := NewSettings(newFlags(t,
		"--input-artifact", "team/rentals/sample.csv",
		"--output-artifact", "clean_sample.csv",
		"--min-price", "10",
		"--max-price", "350",
		"--store", "http",
		"--store-endpoint", "https://artifacts.example.com/api",
	))
	if err != nil {
		t.Fatal(err)
	}
	st, result := Load("", v)
	if !result.IsValid() {
		t.Fatalf("Load() errors = %v", result.AllErrors())
	}
	if st.Store.Type != artifact.StoreHTTP || st.Store.Endpoint != "https://artifacts.example.com/api" || st.Store.Root != "" {
		t.Errorf("store = %+v", st.Store)
	}
	if st.Input.Config["artifact"] != "team/rentals/sample.csv" {
		t.Errorf("input = %+v", st.Input)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("parse error", func(t *testing.T) {
		st, result := Load(writeFile(t, "step.json", "{"), nil)
		if st != nil || len(result.ParseErrors) == 0 {
			t.Errorf("st = %v, result = %+v", st, result)
		}
	})
	t.Run("validation error", func(t *testing.T) {
		st, result := Load(writeFile(t, "step.json", `{"step": {"input": {"type": "file", "config": {"path": "a.csv"}}}}`), nil)
		if st != nil || len(result.ValidationErrors) == 0 {
			t.Errorf("st = %v, result = %+v", st, result)
		}
	})
	t.Run("no file and no flags", func(t *testing.T) {
		st, result := Load("", nil)
		if st != nil || result.IsValid() {
			t.Errorf("st = %v, result = %+v", st, result)
		}
	})
}

func TestConvertToStep(t *testing.T) {
	doc := validDoc()
	s := section(doc, "step")
	s["id"] = "clean-42"
	s["jobType"] = "nightly_cleaning"
	s["workDir"] = "/tmp/work"
	s["store"] = map[string]interface{}{"type": "http", "endpoint": "https://store", "token": "t0k", "timeoutSeconds": 5}

	st, err := ConvertToStep(doc)
	if err != nil {
		t.Fatalf("ConvertToStep() error = %v", err)
	}
	if st.ID != "clean-42" || st.Name != "clean-42" || st.JobType != "nightly_cleaning" || st.WorkDir != "/tmp/work" {
		t.Errorf("step = %+v", st)
	}
	want := &step.StoreConfig{Type: "http", Endpoint: "https://store", Token: "t0k", TimeoutSeconds: 5}
	if !reflect.DeepEqual(st.Store, want) {
		t.Errorf("store = %+v, want %+v", st.Store, want)
	}

	// The module config is a copy of the document's.
	st.Filter.Config["minPrice"] = 0.0
	if section(doc, "step", "filter", "config")["minPrice"] != 10.0 {
		t.Error("ConvertToStep should not alias the document's config maps")
	}

	for _, bad := range []map[string]interface{}{nil, {}, {"step": map[string]interface{}{}}} {
		if _, err := ConvertToStep(bad); err == nil {
			t.Errorf("ConvertToStep(%v) should fail", bad)
		}
	}
}
