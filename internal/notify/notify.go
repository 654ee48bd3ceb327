// Package notify delivers operator and partner notifications: SMTP email,
// Slack alerts, and a JetStream worker that turns domain events into alerts.
package notify

import "time"

// Config holds notification settings. Email is disabled without an SMTP
// host; Slack alerts are disabled without a webhook URL.
type Config struct {
	SMTPHost     string        `envconfig:"SMTP_HOST"`
	SMTPPort     int           `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername string        `envconfig:"SMTP_USERNAME"`
	SMTPPassword string        `envconfig:"SMTP_PASSWORD"`
	SMTPTLS      string        `envconfig:"SMTP_TLS" default:"mandatory"`
	From         string        `envconfig:"MAIL_FROM" default:"settlements@payrecon.local"`
	SlackWebhook string        `envconfig:"SLACK_WEBHOOK_URL"`
	SlackTimeout time.Duration `envconfig:"SLACK_TIMEOUT" default:"5s"`
}

// EmailEnabled reports whether SMTP is configured.
func (c Config) EmailEnabled() bool { return c.SMTPHost != "" }

// SlackEnabled reports whether the ops Slack webhook is configured.
func (c Config) SlackEnabled() bool { return c.SlackWebhook != "" }
