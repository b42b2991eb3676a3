package config

import (
	"fmt"

	"github.com/canectors/basic-cleaning/internal/artifact"
	"github.com/canectors/basic-cleaning/pkg/step"
)

// Defaults applied by ConvertToStep.
const (
	DefaultStepID  = "basic_cleaning"
	DefaultWorkDir = "."
)

// ConvertToStep converts a validated step document to a step.Step and
// applies defaults for the optional fields.
//
// The document is expected to have this structure:
//
//	{
//	  "schemaVersion": "1.0.0",
//	  "step": {
//	    "name": "...",
//	    "store": {"type": "local", "root": "./artifacts"},
//	    "input": {"type": "artifact", "config": {...}},
//	    "filter": {"type": "priceRange", "config": {...}},
//	    "output": {"type": "artifact", "config": {...}}
//	  }
//	}
func ConvertToStep(data map[string]interface{}) (*step.Step, error) {
	if data == nil {
		return nil, fmt.Errorf("step document is nil")
	}
	stepData, ok := data["step"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'step' section")
	}

	st := &step.Step{
		ID:          stringField(stepData, "id"),
		Name:        stringField(stepData, "name"),
		Description: stringField(stepData, "description"),
		JobType:     stringField(stepData, "jobType"),
		WorkDir:     stringField(stepData, "workDir"),
	}
	if st.ID == "" {
		st.ID = DefaultStepID
	}
	if st.Name == "" {
		st.Name = st.ID
	}
	if st.JobType == "" {
		st.JobType = step.DefaultJobType
	}
	if st.WorkDir == "" {
		st.WorkDir = DefaultWorkDir
	}

	var err error
	for _, section := range []struct {
		key string
		dst **step.ModuleConfig
	}{
		{"input", &st.Input},
		{"filter", &st.Filter},
		{"output", &st.Output},
	} {
		raw, ok := stepData[section.key].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("missing or invalid 'step.%s' section", section.key)
		}
		if *section.dst, err = convertModuleConfig(raw); err != nil {
			return nil, fmt.Errorf("invalid %s config: %w", section.key, err)
		}
	}

	st.Store = convertStoreConfig(mapField(stepData, "store"))

	if m := mapField(stepData, "metrics"); m != nil {
		st.Metrics = &step.MetricsConfig{Textfile: stringField(m, "textfile")}
	}

	return st, nil
}

// convertModuleConfig converts a raw module configuration map to ModuleConfig.
func convertModuleConfig(data map[string]interface{}) (*step.ModuleConfig, error) {
	moduleType, ok := data["type"].(string)
	if !ok || moduleType == "" {
		return nil, fmt.Errorf("missing required field 'type'")
	}
	cfg := &step.ModuleConfig{Type: moduleType, Config: make(map[string]interface{})}
	for k, v := range mapField(data, "config") {
		cfg.Config[k] = v
	}
	return cfg, nil
}

func convertStoreConfig(data map[string]interface{}) *step.StoreConfig {
	cfg := &step.StoreConfig{
		Type:     stringField(data, "type"),
		Root:     stringField(data, "root"),
		Endpoint: stringField(data, "endpoint"),
		Token:    stringField(data, "token"),
	}
	if cfg.Type == "" {
		cfg.Type = artifact.StoreLocal
	}
	if cfg.Type == artifact.StoreLocal && cfg.Root == "" {
		cfg.Root = artifact.DefaultLocalRoot
	}
	switch t := data["timeoutSeconds"].(type) {
	case float64:
		cfg.TimeoutSeconds = t
	case int:
		cfg.TimeoutSeconds = float64(t)
	}
	return cfg
}

func stringField(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}

func mapField(data map[string]interface{}, key string) map[string]interface{} {
	m, _ := data[key].(map[string]interface{})
	return m
}
