// Package config builds the single configuration object the pipeline threads
// through its stages. Credentials are read here, once, and nowhere else.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joelkehle/challenge-pipeline/internal/artifact"
	"github.com/joelkehle/challenge-pipeline/internal/challenge"
	"github.com/joelkehle/challenge-pipeline/internal/failure"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

type Config struct {
	// OutputDir receives every JSON artifact, the PDF and the run ledger.
	OutputDir string `koanf:"output_dir"`

	// LogLevel: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat: console or json.
	LogFormat string `koanf:"log_format"`

	Pretty bool `koanf:"pretty"`

	// MetricsFile, when set, receives a Prometheus textfile after each run.
	MetricsFile string `koanf:"metrics_file"`

	// LedgerPath overrides the sqlite run ledger location. "off" disables it.
	LedgerPath string `koanf:"ledger_path"`

	Ingest      IngestConfig      `koanf:"ingest"`
	LLM         LLMConfig         `koanf:"llm"`
	Rank        RankConfig        `koanf:"rank"`
	Report      ReportConfig      `koanf:"report"`
	Graph       GraphConfig       `koanf:"graph"`
	Credentials CredentialsConfig `koanf:"credentials"`
}

type IngestConfig struct {
	Excel           string   `koanf:"excel"`
	Sheet           string   `koanf:"sheet"`
	HeaderRow       int      `koanf:"header_row"`
	RenamePath      string   `koanf:"rename_path"`
	DateColumns     []string `koanf:"date_columns"`
	DateFormat      string   `koanf:"date_format"`
	IDColumn        string   `koanf:"id_column"`
	DropEmptyRows   bool     `koanf:"drop_empty_rows"`
	UnmappedColumns string   `koanf:"unmapped_columns"`
	DateErrors      string   `koanf:"date_errors"`
	// Filters are Column=Value equality filters applied after renaming.
	Filters []string `koanf:"filters"`
}

type LLMConfig struct {
	Provider    string        `koanf:"provider"`
	Model       string        `koanf:"model"`
	Temperature float64       `koanf:"temperature"`
	MaxTokens   int           `koanf:"max_tokens"`
	Timeout     time.Duration `koanf:"timeout"`
	MaxAttempts int           `koanf:"max_attempts"`
	Concurrency int           `koanf:"concurrency"`
}

type RankConfig struct {
	// StartMonth (YYYY-MM) drops earlier months; empty means the earliest.
	StartMonth string `koanf:"start_month"`
	TopN       int    `koanf:"top_n"`
	ScoreField string `koanf:"score_field"`
}

type ReportConfig struct {
	Title string `koanf:"title"`
	// Paper: letter or a4.
	Paper      string        `koanf:"paper"`
	ChromePath string        `koanf:"chrome_path"`
	Timeout    time.Duration `koanf:"timeout"`
}

type GraphConfig struct {
	BaseURL     string        `koanf:"base_url"`
	LoginURL    string        `koanf:"login_url"`
	Timeout     time.Duration `koanf:"timeout"`
	MaxAttempts int           `koanf:"max_attempts"`
}

type CredentialsConfig struct {
	AnthropicAPIKey string `koanf:"anthropic_api_key"`
	GeminiAPIKey    string `koanf:"gemini_api_key"`
	TenantID        string `koanf:"ms_tenant_id"`
	ClientID        string `koanf:"ms_client_id"`
	ClientSecret    string `koanf:"ms_client_secret"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		OutputDir: artifact.DefaultOutputDir,
		LogLevel:  "info",
		LogFormat: "console",
		Pretty:    true,
		Ingest: IngestConfig{
			Excel:           artifact.DefaultSourceXLSX,
			Sheet:           "Sheet1",
			HeaderRow:       1,
			RenamePath:      "config/rename.json",
			DateColumns:     []string{"Start time", "Completion time", "Last modified time"},
			DateFormat:      "%Y-%m-%dT%H:%M:%S",
			IDColumn:        "ID",
			DropEmptyRows:   true,
			UnmappedColumns: "pass",
			DateErrors:      "abort",
		},
		LLM: LLMConfig{
			Provider:    ProviderAnthropic,
			Temperature: 0.2,
			MaxTokens:   4096,
			Timeout:     90 * time.Second,
			MaxAttempts: 4,
			Concurrency: 4,
		},
		Rank: RankConfig{
			TopN:       1,
			ScoreField: "overall_verdict",
		},
		Report: ReportConfig{
			Title:   "AI Challenge Evaluations",
			Paper:   "letter",
			Timeout: 60 * time.Second,
		},
		Graph: GraphConfig{
			BaseURL:     "https://graph.microsoft.com/v1.0",
			LoginURL:    "https://login.microsoftonline.com",
			Timeout:     60 * time.Second,
			MaxAttempts: 4,
		},
	}
}

// Path joins name onto the output directory.
func (c *Config) Path(name string) string {
	return filepath.Join(c.OutputDir, name)
}

func (c *Config) LedgerFile() string {
	if c.LedgerPath != "" {
		return c.LedgerPath
	}
	return c.Path(artifact.LedgerFile)
}

// Validate checks values that every command depends on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("output_dir must not be empty")
	}
	if c.Ingest.HeaderRow < 1 {
		return fmt.Errorf("ingest.header_row must be >= 1, got %d", c.Ingest.HeaderRow)
	}
	switch c.Ingest.UnmappedColumns {
	case "pass", "drop":
	default:
		return fmt.Errorf("ingest.unmapped_columns must be pass or drop, got %q", c.Ingest.UnmappedColumns)
	}
	switch c.Ingest.DateErrors {
	case "abort", "drop":
	default:
		return fmt.Errorf("ingest.date_errors must be abort or drop, got %q", c.Ingest.DateErrors)
	}
	if c.Ingest.DateFormat != "" {
		if err := challenge.CheckDateFormat(c.Ingest.DateFormat); err != nil {
			return fmt.Errorf("ingest.date_format: %w", err)
		}
	}
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderGemini:
	default:
		return fmt.Errorf("llm.provider must be %s or %s, got %q", ProviderAnthropic, ProviderGemini, c.LLM.Provider)
	}
	if c.LLM.MaxAttempts < 1 {
		return fmt.Errorf("llm.max_attempts must be >= 1")
	}
	if c.LLM.Concurrency < 1 {
		return fmt.Errorf("llm.concurrency must be >= 1")
	}
	switch strings.ToLower(c.Report.Paper) {
	case "", "letter", "a4":
	default:
		return fmt.Errorf("report.paper must be letter or a4, got %q", c.Report.Paper)
	}
	if c.Rank.TopN < 1 {
		return fmt.Errorf("rank.top_n must be >= 1")
	}
	return nil
}

// LLMAPIKey returns the key for the configured provider or an auth error when
// it is absent. Callers check this before constructing any client.
func (c *Config) LLMAPIKey() (string, error) {
	var key, name string
	switch c.LLM.Provider {
	case ProviderGemini:
		key, name = c.Credentials.GeminiAPIKey, "GEMINI_API_KEY"
	default:
		key, name = c.Credentials.AnthropicAPIKey, "ANTHROPIC_API_KEY"
	}
	if strings.TrimSpace(key) == "" {
		return "", failure.Auth("llm credentials", fmt.Errorf("%s not configured", name))
	}
	return strings.TrimSpace(key), nil
}

// RequireGraph fails fast when any of the directory credentials is missing.
func (c *Config) RequireGraph() error {
	var missing []string
	if strings.TrimSpace(c.Credentials.TenantID) == "" {
		missing = append(missing, "MS_TENANT_ID")
	}
	if strings.TrimSpace(c.Credentials.ClientID) == "" {
		missing = append(missing, "MS_CLIENT_ID")
	}
	if strings.TrimSpace(c.Credentials.ClientSecret) == "" {
		missing = append(missing, "MS_CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return failure.Auth("graph credentials", fmt.Errorf("missing %s", strings.Join(missing, ", ")))
	}
	return nil
}
