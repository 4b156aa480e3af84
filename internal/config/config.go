package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env             string        `mapstructure:"ENV"`
	Port            string        `mapstructure:"PORT"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	AdminKey        string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed     string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	MaxUploadSizeMB int64         `mapstructure:"MAX_UPLOAD_MB"`

	ScoringBaseURL   string `mapstructure:"SCORING_BASE_URL"`
	ScoringAPIKey    string `mapstructure:"SCORING_API_KEY"`
	ScoringModel     string `mapstructure:"SCORING_MODEL"`
	ScoringMaxTokens int    `mapstructure:"SCORING_MAX_TOKENS"`

	AnalysisCap   int           `mapstructure:"ANALYSIS_CAP"`
	AnalysisPause time.Duration `mapstructure:"ANALYSIS_PAUSE"`

	ReportWindowDays int `mapstructure:"REPORT_WINDOW_DAYS"`
	ReportTopN       int `mapstructure:"REPORT_TOP_N"`

	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `mapstructure:"TELEGRAM_CHAT_ID"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("MAX_UPLOAD_MB", 20)
	v.SetDefault("SCORING_BASE_URL", "https://api.groq.com/openai/v1")
	v.SetDefault("SCORING_MODEL", "llama-3.1-8b-instant")
	v.SetDefault("SCORING_MAX_TOKENS", 2000)
	v.SetDefault("ANALYSIS_CAP", 10)
	v.SetDefault("ANALYSIS_PAUSE", "60s")
	v.SetDefault("REPORT_WINDOW_DAYS", 7)
	v.SetDefault("REPORT_TOP_N", 3)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the credentials the pipeline cannot run without.
// A failure here aborts the process; everything else degrades (mock
// scorer, nop notifier).
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	if c.AnalysisCap <= 0 {
		return fmt.Errorf("ANALYSIS_CAP must be positive, got %d", c.AnalysisCap)
	}
	if c.ReportWindowDays <= 0 {
		return fmt.Errorf("REPORT_WINDOW_DAYS must be positive, got %d", c.ReportWindowDays)
	}
	return nil
}
