package webhook

import "time"

// Config holds webhook ingestion settings.
type Config struct {
	Secret          string        `envconfig:"WEBHOOK_SECRET"`
	SecretB64       string        `envconfig:"WEBHOOK_SECRET_B64"`
	CheckoutSecret  string        `envconfig:"RAZORPAY_KEY_SECRET"`
	SignatureHeader string        `envconfig:"WEBHOOK_SIGNATURE_HEADER" default:"X-Gateway-Signature"`
	EventIDHeader   string        `envconfig:"WEBHOOK_EVENT_ID_HEADER" default:"X-Webhook-Event-Id"`
	ProcessTimeout  time.Duration `envconfig:"WEBHOOK_PROCESS_TIMEOUT" default:"8s"`
	MaxBodyBytes    int64         `envconfig:"WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
	ReplayAfter     time.Duration `envconfig:"WEBHOOK_REPLAY_AFTER" default:"5m"`
	ReplayInterval  time.Duration `envconfig:"WEBHOOK_REPLAY_INTERVAL" default:"1m"`
	ReplayBatch     int           `envconfig:"WEBHOOK_REPLAY_BATCH" default:"100"`
	MaxAttempts     int           `envconfig:"WEBHOOK_MAX_ATTEMPTS" default:"5"`
}
