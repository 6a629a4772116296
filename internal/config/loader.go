package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "CHALLENGE_"

// credentialEnv maps the conventional secret variables onto config keys.
var credentialEnv = map[string]string{
	"ANTHROPIC_API_KEY": "credentials.anthropic_api_key",
	"GEMINI_API_KEY":    "credentials.gemini_api_key",
	"MS_TENANT_ID":      "credentials.ms_tenant_id",
	"MS_CLIENT_ID":      "credentials.ms_client_id",
	"MS_CLIENT_SECRET":  "credentials.ms_client_secret",
}

// Load layers configuration, lowest precedence first:
//  1. defaults (New)
//  2. YAML file at path, or at $CHALLENGE_CONFIG when path is empty
//  3. CHALLENGE_* variables, "__" separating nested keys
//     (CHALLENGE_LLM__MODEL -> llm.model)
//  4. the credential variables in credentialEnv
//
// Command-line flags are applied by the caller on top of the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	prefixed := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		if s == "CONFIG" {
			return ""
		}
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(prefixed, nil); err != nil {
		return nil, err
	}

	secrets := env.Provider("", ".", func(s string) string {
		return credentialEnv[s]
	})
	if err := k.Load(secrets, nil); err != nil {
		return nil, err
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
