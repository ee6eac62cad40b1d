// Package config loads the utgen configuration: YAML file, defaults,
// environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the complete utgen configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Agent     AgentConfig     `yaml:"agent"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Prompt    PromptConfig    `yaml:"prompt"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Output    OutputConfig    `yaml:"output"`
}

// LLMConfig selects the provider and model.
type LLMConfig struct {
	Provider    string  `yaml:"provider" env:"UTGEN_PROVIDER" validate:"required,oneof=openai anthropic groq ollama mistral"`
	Model       string  `yaml:"model" env:"UTGEN_MODEL" validate:"required"`
	MaxTokens   int     `yaml:"max_tokens" validate:"gte=1"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxRetries  int     `yaml:"max_retries" validate:"gte=0,lte=10"`
	// APIKey is normally left empty and read from the provider's variable.
	APIKey string `yaml:"api_key"`
}

// AgentConfig bounds the control loop.
type AgentConfig struct {
	// MaxSteps caps model invocations per run; 0 means unlimited.
	MaxSteps         int            `yaml:"max_steps" env:"UTGEN_MAX_STEPS" validate:"gte=0"`
	ToolOutputLimits map[string]int `yaml:"tool_output_limits" validate:"dive,gte=0"`
	ContextWarnRatio float64        `yaml:"context_warn_ratio" validate:"gte=0,lte=1"`
}

// KnowledgeConfig locates the knowledge base and unit test templates.
type KnowledgeConfig struct {
	BasePath   string `yaml:"base_path" env:"UTGEN_KNOWLEDGE_BASE" validate:"required"`
	SourceFile string `yaml:"source_file" validate:"required"`
	CTemplate  string `yaml:"c_template" validate:"required"`
	HTemplate  string `yaml:"h_template" validate:"required"`
}

// PromptConfig overrides the embedded system directive when SystemPath is set.
type PromptConfig struct {
	SystemPath string `yaml:"system_path"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// TelemetryConfig configures tracing export and the metrics endpoint.
type TelemetryConfig struct {
	TraceExporter string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	OTLPEndpoint  string `yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
	// OTLPInsecure skips TLS towards the collector, for local development.
	OTLPInsecure  bool   `yaml:"otlp_insecure" env:"UTGEN_OTLP_INSECURE"`
	MetricsAddr   string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

// OutputConfig is where generated unit test files are written.
type OutputConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "o4-mini",
			MaxTokens:   8192,
			Temperature: 1.0,
			MaxRetries:  2,
		},
		Agent: AgentConfig{
			MaxSteps:         33,
			ToolOutputLimits: map[string]int{},
			ContextWarnRatio: 0.8,
		},
		Knowledge: KnowledgeConfig{
			BasePath:   "knowledge/KnowledgeBase.json",
			SourceFile: "knowledge/sourcefile.c",
			CTemplate:  "template/template.c",
			HTemplate:  "template/template.h",
		},
		Log:       LogConfig{Level: "info", Format: "text"},
		Telemetry: TelemetryConfig{TraceExporter: "none"},
		Output:    OutputConfig{Dir: "output"},
	}
}

// Option customizes Load.
type Option func(*loader)

type loader struct {
	environ map[string]string
	logger  *slog.Logger
}

// WithEnvironment replaces the process environment used for overrides.
func WithEnvironment(environ map[string]string) Option {
	return func(l *loader) { l.environ = environ }
}

// WithLogger sets the logger that reports the loaded configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(l *loader) { l.logger = logger }
}

// Load reads path (optional; empty means defaults only), applies environment
// overrides and validates the result.
func Load(path string, opts ...Option) (*Config, error) {
	l := &loader{logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	envOpts := env.Options{}
	if l.environ != nil {
		envOpts.Environment = l.environ
	}
	if err := env.ParseWithOptions(cfg, envOpts); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l.logger.Info("utgen config loaded",
		slog.String("path", path),
		slog.String("provider", cfg.LLM.Provider),
		slog.String("model", cfg.LLM.Model),
		slog.Int("max_steps", cfg.Agent.MaxSteps),
	)
	return cfg, nil
}

// Parse decodes YAML onto cfg. Keys absent from data keep their current
// values.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if cfg.Agent.ToolOutputLimits == nil {
		cfg.Agent.ToolOutputLimits = map[string]int{}
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every field constraint and reports all violations at
// once, keyed by their YAML path.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest
	}
	switch fe.Tag() {
	case "required", "required_if":
		return path + ": is required"
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s], got %q", path, fe.Param(), fmt.Sprint(fe.Value()))
	case "gte", "lte":
		return fmt.Sprintf("%s: must be %s %s", path, map[string]string{"gte": ">=", "lte": "<="}[fe.Tag()], fe.Param())
	case "hostname_port":
		return fmt.Sprintf("%s: must be host:port, got %q", path, fmt.Sprint(fe.Value()))
	default:
		return fmt.Sprintf("%s: failed %s", path, fe.Tag())
	}
}
