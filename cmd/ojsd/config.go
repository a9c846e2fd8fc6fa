package main

import (
	"ojsbot-backend/internal/notify"
	"ojsbot-backend/internal/scrapers/ojs"
	"ojsbot-backend/lib/configutil"
)

type TelegramConfig struct {
	Token       string `json:"token"`
	AdminChatId string `json:"admin_chat_id"`
	// WebhookUrl is registered with Telegram on startup when set, it should
	// point at /telegram/webhook of this server.
	WebhookUrl string `json:"webhook_url"`
	// WebhookSecret authenticates webhook updates, a random one is used when
	// empty.
	WebhookSecret string `json:"webhook_secret"`
}

type Config struct {
	Port        int    `json:"port"`
	AccessToken string `json:"access_token"`
	Timezone    string `json:"timezone"`

	Database   configutil.Database `json:"database"`
	StagingDir string              `json:"staging_dir"`
	ReportsDir string              `json:"reports_dir"`

	UnitCeilingMb     int64     `json:"unit_ceiling_mb"`
	MaxConcurrentRuns int64     `json:"max_concurrent_runs"`
	RequestsPerSecond float64   `json:"requests_per_second"`
	Paths             ojs.Paths `json:"paths"`

	// ReportRetentionDays defaults to 30, 0 keeps reports forever.
	ReportRetentionDays *int   `json:"report_retention_days"`
	ReportRetentionCron string `json:"report_retention_cron"`

	Telegram TelegramConfig    `json:"telegram"`
	Email    notify.SmtpConfig `json:"email"`
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.Database.File == "" && c.Database.Url == "" {
		c.Database.File = "data/ojsbot.db"
	}
	if c.StagingDir == "" {
		c.StagingDir = "data/staging"
	}
	if c.ReportsDir == "" {
		c.ReportsDir = "data/reports"
	}
	if c.UnitCeilingMb <= 0 {
		c.UnitCeilingMb = 10
	}
	if c.MaxConcurrentRuns <= 0 {
		c.MaxConcurrentRuns = 4
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 2
	}
	if c.ReportRetentionDays == nil {
		days := 30
		c.ReportRetentionDays = &days
	}
	if c.ReportRetentionCron == "" {
		c.ReportRetentionCron = "0 3 * * *"
	}
	return c
}
