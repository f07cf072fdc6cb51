// Package config loads the review service configuration.
//
// The file is YAML; JSON files are accepted as well since JSON is a YAML
// subset. Values from the file are merged over Default(), then selected
// environment variables override them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	apiKeyEnv       = "OPENAI_API_KEY"
	baseURLEnv      = "OPENAI_BASE_URL"
	assistantIDEnv  = "ASSISTANT_ID"
	instructionsEnv = "DDS_INSTRUCTIONS_FILE"
	outputDirEnv    = "DDS_OUTPUT_DIR"
	listenAddrEnv   = "DDS_LISTEN_ADDR"
	logLevelEnv     = "DDS_LOG_LEVEL"
)

// Config holds every setting of the service.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	LLM          LLMConfig          `yaml:"llm"`
	Instructions InstructionsConfig `yaml:"instructions"`
	Remote       RemoteConfig       `yaml:"remote"`
	Report       ReportConfig       `yaml:"report"`
	Storage      StorageConfig      `yaml:"storage"`
	Batch        BatchConfig        `yaml:"batch"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr        string        `yaml:"addr"`
	MaxUploadMB int           `yaml:"max_upload_mb"`
	RunTimeout  time.Duration `yaml:"run_timeout"`
}

// LLMConfig selects and tunes the review backend.
type LLMConfig struct {
	Provider        string        `yaml:"provider"` // openai | deepseek | mock
	Model           string        `yaml:"model"`
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	Mode            string        `yaml:"mode"` // chat | assistant
	AssistantID     string        `yaml:"assistant_id"`
	Temperature     float64       `yaml:"temperature"`
	MaxTokens       int64         `yaml:"max_tokens"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	PollTimeout     time.Duration `yaml:"poll_timeout"`
	MaxPollAttempts int           `yaml:"max_poll_attempts"`
	AttachDocuments bool          `yaml:"attach_documents"`
}

// InstructionsConfig points at the fixed review prompt.
type InstructionsConfig struct {
	Path string `yaml:"path"`
}

// RemoteConfig controls remote-link ingestion.
type RemoteConfig struct {
	Hosts        []string      `yaml:"hosts"`
	DownloadBase string        `yaml:"download_base"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxMB        int           `yaml:"max_mb"`
}

// ReportConfig controls the rendered artifact.
type ReportConfig struct {
	Prefix   string `yaml:"prefix"`
	Markdown bool   `yaml:"markdown"`
}

// StorageConfig selects where artifacts are written.
type StorageConfig struct {
	Type  string      `yaml:"type"` // local | minio
	Dir   string      `yaml:"dir"`
	Minio MinioConfig `yaml:"minio"`
}

// MinioConfig configures an S3-compatible bucket.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// BatchConfig controls batch sizing. ExpectedSize 0 means every upload
// request is its own batch; N > 0 waits until N documents arrived.
type BatchConfig struct {
	ExpectedSize int `yaml:"expected_size"`
	MaxDocuments int `yaml:"max_documents"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// Default returns the settings the service runs with when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:        ":5000",
			MaxUploadMB: 64,
			RunTimeout:  10 * time.Minute,
		},
		LLM: LLMConfig{
			Provider:        "openai",
			Model:           "gpt-4",
			Mode:            "chat",
			Temperature:     0.4,
			MaxTokens:       3000,
			PollInterval:    2 * time.Second,
			PollTimeout:     5 * time.Minute,
			MaxPollAttempts: 300,
		},
		Instructions: InstructionsConfig{Path: "GPT_Instructions.txt"},
		Remote: RemoteConfig{
			Hosts:        []string{"drive.google.com", "docs.google.com"},
			DownloadBase: "https://drive.google.com/uc",
			Timeout:      60 * time.Second,
			MaxMB:        64,
		},
		Report:  ReportConfig{Prefix: "DDS_Review", Markdown: true},
		Storage: StorageConfig{Type: "local", Dir: os.TempDir()},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (when non-empty), applies env overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.LLM.APIKey, apiKeyEnv)
	set(&c.LLM.BaseURL, baseURLEnv)
	set(&c.LLM.AssistantID, assistantIDEnv)
	set(&c.Instructions.Path, instructionsEnv)
	set(&c.Storage.Dir, outputDirEnv)
	set(&c.Server.Addr, listenAddrEnv)
	set(&c.Log.Level, logLevelEnv)
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "mock":
	case "deepseek":
		// OpenAI-compatible endpoint; the gateway address is mandatory.
		if c.LLM.BaseURL == "" {
			return errors.New("llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
		}
	default:
		return fmt.Errorf("llm provider %q not supported", c.LLM.Provider)
	}
	switch c.LLM.Mode {
	case "chat":
	case "assistant":
		if c.LLM.Provider == "deepseek" {
			return errors.New("llm mode assistant requires provider openai")
		}
		if c.LLM.Provider == "openai" && c.LLM.AssistantID == "" {
			return errors.New("llm mode assistant requires assistant_id")
		}
		if c.LLM.PollInterval <= 0 || c.LLM.PollTimeout <= 0 {
			return errors.New("llm poll_interval and poll_timeout must be > 0")
		}
	default:
		return fmt.Errorf("llm mode %q not supported (use chat or assistant)", c.LLM.Mode)
	}
	if c.LLM.Provider != "mock" && c.LLM.Model == "" && c.LLM.Mode == "chat" {
		return errors.New("llm model is required")
	}
	if c.Instructions.Path == "" {
		return errors.New("instructions.path is required")
	}
	if c.Report.Prefix == "" {
		return errors.New("report.prefix is required")
	}
	if strings.ContainsAny(c.Report.Prefix, `/\`) {
		return fmt.Errorf("report.prefix %q must not contain path separators", c.Report.Prefix)
	}
	switch c.Storage.Type {
	case "local":
		if c.Storage.Dir == "" {
			return errors.New("storage.dir is required for local storage")
		}
	case "minio":
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			return errors.New("storage.minio endpoint and bucket are required")
		}
	default:
		return fmt.Errorf("storage type %q not supported (use local or minio)", c.Storage.Type)
	}
	if c.Batch.ExpectedSize < 0 || c.Batch.MaxDocuments < 0 {
		return errors.New("batch sizes must be >= 0")
	}
	if c.Batch.ExpectedSize > 0 && c.Batch.MaxDocuments > 0 && c.Batch.ExpectedSize > c.Batch.MaxDocuments {
		return fmt.Errorf("batch.expected_size %d exceeds batch.max_documents %d", c.Batch.ExpectedSize, c.Batch.MaxDocuments)
	}
	if c.Server.MaxUploadMB <= 0 {
		return errors.New("server.max_upload_mb must be > 0")
	}
	if c.Remote.MaxMB <= 0 {
		return errors.New("remote.max_mb must be > 0")
	}
	return nil
}

// MaxUploadBytes returns the multipart body limit in bytes.
func (c *Config) MaxUploadBytes() int64 { return int64(c.Server.MaxUploadMB) * 1024 * 1024 }

// MaxRemoteBytes returns the remote download limit in bytes.
func (c *Config) MaxRemoteBytes() int64 { return int64(c.Remote.MaxMB) * 1024 * 1024 }
