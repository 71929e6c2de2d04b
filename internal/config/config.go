package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
	"github.com/ryosukesatoh/daily-brief/internal/retry"
)

// DefaultCategories are researched when the config names none.
var DefaultCategories = []string{
	"Big Tech & Startups",
	"Science & Futuristic Technology",
	"Programming, Design & Data Science",
}

type Config struct {
	Categories             []string          `yaml:"categories"`
	Date                   string            `yaml:"date"`
	DateRange              string            `yaml:"date_range"`
	Title                  string            `yaml:"title"`
	Subtitle               string            `yaml:"subtitle"`
	MaxArticlesPerCategory int               `yaml:"max_articles_per_category"`
	IncludeImages          bool              `yaml:"include_images"`
	Format                 string            `yaml:"format"`
	QualityLevel           int               `yaml:"quality_level"`
	RequestDelay           time.Duration     `yaml:"request_delay"`
	CategoryPrompts        map[string]string `yaml:"category_prompts"`
	Workers                int               `yaml:"workers"`
	MinScore               float64           `yaml:"min_score"`
	FetchFullPage          bool              `yaml:"fetch_full_page"`
	Schedule               string            `yaml:"schedule"`
	RunOnStart             bool              `yaml:"run_on_start"`
	Search                 SearchConfig      `yaml:"search"`
	LLM                    LLMConfig         `yaml:"llm"`
	Retry                  RetryConfig       `yaml:"retry"`
	Publisher              PublisherConfig   `yaml:"publisher"`
	Archive                ArchiveConfig     `yaml:"archive"`
	Log                    LogConfig         `yaml:"log"`
}

type SearchConfig struct {
	Provider   string        `yaml:"provider"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxResults int           `yaml:"max_results"`
}

type LLMConfig struct {
	Provider string        `yaml:"provider"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      float64       `yaml:"jitter"`
}

type PublisherConfig struct {
	Type    string        `yaml:"type"`  // Legacy single publisher
	Types   []string      `yaml:"types"` // Multiple publishers
	File    FileConfig    `yaml:"file"`
	Email   EmailConfig   `yaml:"email"`
	Web     WebConfig     `yaml:"web"`
	Discord DiscordConfig `yaml:"discord"`
}

type FileConfig struct {
	Dir string `yaml:"dir"`
}

type DiscordConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

type EmailConfig struct {
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type WebConfig struct {
	Addr string `yaml:"addr"`
}

type ArchiveConfig struct {
	// Path enables the SQLite issue archive when set.
	Path          string `yaml:"path"`
	SkipPublished bool   `yaml:"skip_published"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PublisherTypes returns the configured publishers, preferring the types
// list over the legacy type field.
func (c *Config) PublisherTypes() []string {
	if len(c.Publisher.Types) > 0 {
		return c.Publisher.Types
	}
	if c.Publisher.Type != "" {
		return []string{c.Publisher.Type}
	}
	return []string{}
}

// RetryPolicy converts the retry section into the shared retry policy.
func (c *Config) RetryPolicy() retry.Config {
	return retry.Config{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
		Jitter:      c.Retry.Jitter,
	}
}

// Request builds the newsletter request described by the config.
func (c *Config) Request() newsletter.Request {
	return newsletter.Request{
		Categories:             c.Categories,
		Date:                   c.Date,
		DateRange:              c.DateRange,
		Title:                  c.Title,
		Subtitle:               c.Subtitle,
		MaxArticlesPerCategory: c.MaxArticlesPerCategory,
		IncludeImages:          c.IncludeImages,
		Format:                 c.Format,
		QualityLevel:           c.QualityLevel,
		RequestDelay:           c.RequestDelay,
		CategoryPrompts:        c.CategoryPrompts,
	}
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func setDefaults(cfg *Config) {
	if len(cfg.Categories) == 0 {
		cfg.Categories = append([]string(nil), DefaultCategories...)
	}
	if cfg.MaxArticlesPerCategory == 0 {
		cfg.MaxArticlesPerCategory = 5
	}
	if cfg.Format == "" {
		cfg.Format = newsletter.FormatMarkdown
	}
	if cfg.QualityLevel == 0 {
		cfg.QualityLevel = 3
	}
	if cfg.Workers == 0 {
		cfg.Workers = 3
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "0 8 * * *"
	}
	if cfg.Search.Provider == "" {
		cfg.Search.Provider = "duckduckgo"
	}
	if cfg.Search.Timeout == 0 {
		cfg.Search.Timeout = 20 * time.Second
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = 8
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.Model == "" && cfg.LLM.Provider == "anthropic" {
		cfg.LLM.Model = "claude-sonnet-4-20250514"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}
	def := retry.DefaultConfig()
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = def.MaxAttempts
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = def.BaseDelay
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = def.MaxDelay
	}
	if cfg.Retry.Jitter == 0 {
		cfg.Retry.Jitter = def.Jitter
	}
	if cfg.Publisher.Type == "" && len(cfg.Publisher.Types) == 0 {
		cfg.Publisher.Type = "stdout"
	}
	if cfg.Publisher.File.Dir == "" {
		cfg.Publisher.File.Dir = "newsletters"
	}
	if cfg.Publisher.Web.Addr == "" {
		cfg.Publisher.Web.Addr = ":8080"
	}
	if cfg.Publisher.Email.SMTPPort == 0 {
		cfg.Publisher.Email.SMTPPort = 587
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func validate(cfg *Config) error {
	if err := cfg.Request().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("config: workers must not be negative")
	}
	switch cfg.Search.Provider {
	case "duckduckgo":
	case "tavily", "brave":
		if cfg.Search.APIKey == "" {
			return fmt.Errorf("config: search.api_key is required for the %s provider", cfg.Search.Provider)
		}
	default:
		return fmt.Errorf("config: unsupported search provider %q (supported: duckduckgo, tavily, brave)", cfg.Search.Provider)
	}
	switch cfg.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("config: unsupported llm provider %q (supported: anthropic, openai)", cfg.LLM.Provider)
	}
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("config: llm.api_key is required (set ANTHROPIC_API_KEY env var)")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be at least 1")
	}
	for _, typ := range cfg.PublisherTypes() {
		if err := validatePublisher(cfg, typ); err != nil {
			return err
		}
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unsupported log format %q (supported: text, json)", cfg.Log.Format)
	}
	return nil
}

func validatePublisher(cfg *Config, typ string) error {
	switch typ {
	case "stdout", "file", "web":
	case "discord":
		if cfg.Publisher.Discord.WebhookURL == "" {
			return fmt.Errorf("config: publisher.discord.webhook_url is required for discord publisher")
		}
	case "email":
		if cfg.Publisher.Email.SMTPHost == "" {
			return fmt.Errorf("config: publisher.email.smtp_host is required for email publisher")
		}
		if len(cfg.Publisher.Email.To) == 0 {
			return fmt.Errorf("config: publisher.email.to is required for email publisher")
		}
		if cfg.Publisher.Email.From == "" {
			return fmt.Errorf("config: publisher.email.from is required for email publisher")
		}
	default:
		return fmt.Errorf("config: unsupported publisher type %q (supported: stdout, file, email, web, discord)", typ)
	}
	return nil
}

// Load reads the config file, expands environment variables, applies defaults,
// and validates the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
