package artifact

import (
	"errors"
	"testing"

	"github.com/canectors/basic-cleaning/internal/errhandling"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		in   string
		want Ref
	}{
		{"sample.csv", Ref{Name: "sample.csv", Alias: "latest"}},
		{"sample.csv:latest", Ref{Name: "sample.csv", Alias: "latest"}},
		{"sample.csv:v3", Ref{Name: "sample.csv", Version: 3}},
		{"sample.csv:reference", Ref{Name: "sample.csv", Alias: "reference"}},
		{"acme/nyc_airbnb/sample.csv:v0x", Ref{Entity: "acme", Project: "nyc_airbnb", Name: "sample.csv", Alias: "v0x"}},
		{"nyc_airbnb/sample.csv:reference", Ref{Project: "nyc_airbnb", Name: "sample.csv", Alias: "reference"}},
		{"nyc_airbnb/sample.csv", Ref{Project: "nyc_airbnb", Name: "sample.csv", Alias: "latest"}},
		{" clean_sample.csv:v12 ", Ref{Name: "clean_sample.csv", Version: 12}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRef(tt.in)
			if err != nil {
				t.Fatalf("ParseRef(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseRef(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseRefErrors(t *testing.T) {
	tests := []string{
		"",
		"sample.csv:",
		"sample.csv:v0",
		"a/b/c/d",
		"/project/name",
		"/name",
		".proj/name",
		"proj/",
		"../etc/passwd",
		".hidden",
		"name:bad alias",
	}

	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			_, err := ParseRef(in)
			if !errors.Is(err, ErrInvalidRef) {
				t.Errorf("ParseRef(%q) error = %v, want ErrInvalidRef", in, err)
			}
		})
	}
}

func TestRefString(t *testing.T) {
	tests := []struct {
		ref  Ref
		want string
	}{
		{Ref{Name: "sample.csv"}, "sample.csv:latest"},
		{Ref{Name: "sample.csv", Version: 2}, "sample.csv:v2"},
		{Ref{Entity: "e", Project: "p", Name: "n", Alias: "prod"}, "e/p/n:prod"},
		{Ref{Project: "p", Name: "n", Version: 4}, "p/n:v4"},
	}

	for _, tt := range tests {
		if got := tt.ref.String(); got != tt.want {
			t.Errorf("%+v.String() = %q, want %q", tt.ref, got, tt.want)
		}
		parsed, err := ParseRef(tt.ref.String())
		if err != nil {
			t.Errorf("ParseRef(%q) error = %v", tt.ref.String(), err)
		}
		if parsed.String() != tt.want {
			t.Errorf("reparsed %q = %q", tt.want, parsed.String())
		}
	}
}

func TestValidateNameIsValidationError(t *testing.T) {
	err := ValidateName("../escape")
	if !errors.Is(err, ErrInvalidRef) {
		t.Fatalf("ValidateName() error = %v, want ErrInvalidRef", err)
	}
	if got := errhandling.GetErrorCategory(err); got != errhandling.CategoryValidation {
		t.Errorf("category = %s, want %s", got, errhandling.CategoryValidation)
	}
	if !errhandling.IsFatal(err) {
		t.Error("invalid names should be fatal")
	}
	if err := ValidateName("clean_sample.csv"); err != nil {
		t.Errorf("ValidateName(clean_sample.csv) = %v", err)
	}
}
