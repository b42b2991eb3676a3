package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/canectors/basic-cleaning/pkg/step"
)

// EnvPrefix is the prefix of environment variables that override the step
// document, e.g. BASIC_CLEANING_MIN_PRICE.
const EnvPrefix = "BASIC_CLEANING"

// SchemaVersion is written into documents built from flags alone.
const SchemaVersion = "1.0.0"

// Override flag names. They mirror the arguments of the cleaning job.
const (
	FlagInputArtifact     = "input-artifact"
	FlagOutputArtifact    = "output-artifact"
	FlagOutputType        = "output-type"
	FlagOutputDescription = "output-description"
	FlagMinPrice          = "min-price"
	FlagMaxPrice          = "max-price"
	FlagColumn            = "column"
	FlagStore             = "store"
	FlagStoreRoot         = "store-root"
	FlagStoreEndpoint     = "store-endpoint"
	FlagStoreToken        = "store-token"
	FlagWorkDir           = "work-dir"
	FlagMetricsFile       = "metrics-file"
)

// override places one flag value in the step document.
type override struct {
	flag  string
	usage string
	float bool
	apply func(doc map[string]interface{}, value interface{})
}

var overrides = []override{
	{flag: FlagInputArtifact, usage: "input artifact reference ([[entity/]project/]name[:version])",
		apply: moduleSetter("input", "artifact", "artifact")},
	{flag: FlagOutputArtifact, usage: "name of the output artifact",
		apply: moduleSetter("output", "artifact", "name")},
	{flag: FlagOutputType, usage: "type of the output artifact",
		apply: moduleSetter("output", "artifact", "type")},
	{flag: FlagOutputDescription, usage: "description of the output artifact",
		apply: moduleSetter("output", "artifact", "description")},
	{flag: FlagMinPrice, usage: "minimum price to keep (inclusive)", float: true,
		apply: moduleSetter("filter", "priceRange", "minPrice")},
	{flag: FlagMaxPrice, usage: "maximum price to keep (inclusive)", float: true,
		apply: moduleSetter("filter", "priceRange", "maxPrice")},
	{flag: FlagColumn, usage: "column compared against the price range (default \"price\")",
		apply: moduleSetter("filter", "priceRange", "column")},
	{flag: FlagStore, usage: "artifact store type (local or http)",
		apply: sectionSetter("store", "type")},
	{flag: FlagStoreRoot, usage: "local artifact store directory",
		apply: sectionSetter("store", "root")},
	{flag: FlagStoreEndpoint, usage: "remote artifact store base URL",
		apply: sectionSetter("store", "endpoint")},
	{flag: FlagStoreToken, usage: "bearer token for the remote artifact store",
		apply: sectionSetter("store", "token")},
	{flag: FlagWorkDir, usage: "directory for the cleaned CSV",
		apply: func(doc map[string]interface{}, v interface{}) { stepSection(doc)["workDir"] = v }},
	{flag: FlagMetricsFile, usage: "write run metrics to this Prometheus textfile",
		apply: sectionSetter("metrics", "textfile")},
}

// RegisterFlags adds the override flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	for _, o := range overrides {
		if o.float {
			fs.Float64(o.flag, 0, o.usage)
		} else {
			fs.String(o.flag, "", o.usage)
		}
	}
}

// RegisterStoreFlags adds only the artifact store flags to fs.
func RegisterStoreFlags(fs *pflag.FlagSet) {
	for _, o := range overrides {
		if strings.HasPrefix(o.flag, "store") {
			fs.String(o.flag, "", o.usage)
		}
	}
}

// StoreFromSettings builds the store configuration from the store overrides
// in v, with the same defaults a step file gets.
func StoreFromSettings(v *viper.Viper) *step.StoreConfig {
	doc, _ := ApplyOverrides(nil, v)
	return convertStoreConfig(child(stepSection(doc), "store"))
}

// NewSettings returns a viper instance bound to the override flags of fs
// (registered with RegisterFlags) and to EnvPrefix environment variables.
// Flags take precedence over the environment.
func NewSettings(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, o := range overrides {
		if f := fs.Lookup(o.flag); f != nil {
			if err := v.BindPFlag(o.flag, f); err != nil {
				return nil, err
			}
		}
	}
	return v, nil
}

// ApplyOverrides writes every override that is set in v into doc and
// returns doc. A nil doc starts an empty document, so a step can be
// described by flags alone.
//
// Numeric overrides must parse as finite numbers; those that do not are
// returned as validation errors and left out of doc.
func ApplyOverrides(doc map[string]interface{}, v *viper.Viper) (map[string]interface{}, []ValidationError) {
	if doc == nil {
		doc = map[string]interface{}{"schemaVersion": SchemaVersion}
	}
	if v == nil {
		return doc, nil
	}
	var errs []ValidationError
	for _, o := range overrides {
		if !v.IsSet(o.flag) {
			continue
		}
		if !o.float {
			o.apply(doc, v.GetString(o.flag))
			continue
		}
		f, err := parseFinite(v.GetString(o.flag))
		if err != nil {
			errs = append(errs, ValidationError{
				Path:    "--" + o.flag,
				Type:    "type",
				Message: fmt.Sprintf("%s (env %s_%s): %v", o.flag, EnvPrefix, envKey(o.flag), err),
			})
			continue
		}
		o.apply(doc, f)
	}
	return doc, errs
}

func parseFinite(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not a finite number", raw)
	}
	return f, nil
}

func envKey(flag string) string {
	return strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func stepSection(doc map[string]interface{}) map[string]interface{} {
	return child(doc, "step")
}

func child(m map[string]interface{}, key string) map[string]interface{} {
	c, ok := m[key].(map[string]interface{})
	if !ok {
		c = map[string]interface{}{}
		m[key] = c
	}
	return c
}

func sectionSetter(section, key string) func(map[string]interface{}, interface{}) {
	return func(doc map[string]interface{}, v interface{}) {
		child(stepSection(doc), section)[key] = v
	}
}

// moduleSetter sets config[key] on a module section, switching the module
// to moduleType (and dropping its previous config) if it had another type.
func moduleSetter(section, moduleType, key string) func(map[string]interface{}, interface{}) {
	return func(doc map[string]interface{}, v interface{}) {
		module := child(stepSection(doc), section)
		if t, _ := module["type"].(string); t != moduleType {
			module["type"] = moduleType
			module["config"] = map[string]interface{}{}
		}
		child(module, "config")[key] = v
	}
}
