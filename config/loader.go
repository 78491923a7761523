package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/sparqlstream/errors"
	"github.com/c360/sparqlstream/output/file"
	"github.com/c360/sparqlstream/output/httppost"
)

//go:embed schema.json
var schemaJSON []byte

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SPARQLSTREAM_"

// Load reads the file at path, validates it against the embedded schema,
// overlays it on Default and applies environment overrides. An empty path
// yields the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := safeReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "read config file")
		}
		if err := Decode(data, cfg); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode validates a JSON or YAML document and overlays it on cfg. Fields
// absent from the document keep their current values.
func Decode(data []byte, cfg *Config) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errors.WrapInvalid(err, "Config", "Decode", "parse document")
	}
	if doc == nil {
		return nil
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Decode", "normalize document")
	}
	if err := validateJSONDepth(normalized); err != nil {
		return errors.WrapInvalid(err, "Config", "Decode", "check nesting")
	}
	if err := validateSchema(normalized); err != nil {
		return err
	}

	// Optional outputs start from their defaults so partial sections work.
	if outputs, ok := doc["outputs"].(map[string]any); ok {
		if _, ok := outputs["file"]; ok && cfg.Outputs.File == nil {
			def := file.DefaultConfig()
			cfg.Outputs.File = &def
		}
		if _, ok := outputs["webhook"]; ok && cfg.Outputs.Webhook == nil {
			def := httppost.DefaultConfig()
			cfg.Outputs.Webhook = &def
		}
	}

	if err := json.Unmarshal(normalized, cfg); err != nil {
		return errors.WrapInvalid(err, "Config", "Decode", "decode document")
	}
	return nil
}

func validateSchema(doc []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return errors.WrapInvalid(err, "Config", "validateSchema", "run schema validation")
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(msgs, "; ")),
		"Config", "validateSchema", "check document against schema")
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays SPARQLSTREAM_* variables on cfg.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(name string, dst *string) error {
		key := EnvPrefix + name
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		if err := validateEnvVar(key, v); err != nil {
			return errors.WrapInvalid(err, "Config", "ApplyEnv", "read "+key)
		}
		*dst = v
		return nil
	}

	for name, dst := range map[string]*string{
		"ENDPOINT":     &cfg.Client.Endpoint,
		"GATEWAY_ADDR": &cfg.Gateway.Addr,
		"NATS_URL":     &cfg.NATS.URL,
		"NATS_TOKEN":   &cfg.NATS.Token,
		"LOG_LEVEL":    &cfg.Log.Level,
		"LOG_FORMAT":   &cfg.Log.Format,
	} {
		if err := str(name, dst); err != nil {
			return err
		}
	}

	var pageSize string
	if err := str("PAGE_SIZE", &pageSize); err != nil {
		return err
	}
	if pageSize != "" {
		n, err := strconv.Atoi(pageSize)
		if err != nil {
			return errors.WrapInvalid(err, "Config", "ApplyEnv", "parse "+EnvPrefix+"PAGE_SIZE")
		}
		cfg.Pagination.PageSize = n
	}

	var natsEnabled string
	if err := str("NATS_ENABLED", &natsEnabled); err != nil {
		return err
	}
	if natsEnabled != "" {
		b, err := strconv.ParseBool(natsEnabled)
		if err != nil {
			return errors.WrapInvalid(err, "Config", "ApplyEnv", "parse "+EnvPrefix+"NATS_ENABLED")
		}
		cfg.NATS.Enabled = b
	}
	return nil
}
