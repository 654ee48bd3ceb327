// Package invoice renders settlement invoices as HTML and stores them in
// object storage.
package invoice

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/skip2/go-qrcode"

	"payrecon/internal/common/money"
)

// Config holds object storage settings for invoices.
type Config struct {
	Endpoint  string `envconfig:"MINIO_ENDPOINT"`
	AccessKey string `envconfig:"MINIO_ACCESS_KEY"`
	SecretKey string `envconfig:"MINIO_SECRET_KEY"`
	UseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`
	Bucket    string `envconfig:"INVOICE_BUCKET" default:"invoices"`
	PublicURL string `envconfig:"INVOICE_PUBLIC_URL"`
	Issuer    string `envconfig:"INVOICE_ISSUER" default:"payrecon"`
}

// Enabled reports whether object storage is configured.
func (c Config) Enabled() bool {
	return c.Endpoint != ""
}

// Details is what an invoice shows.
type Details struct {
	SettlementID string
	PartnerID    string
	PartnerName  string
	PartnerEmail string
	BookingIDs   []string
	Amount       money.Money
	Status       string
	UTRNumber    string
	IssuedAt     time.Time
}

// ObjectStore is the subset of *minio.Client the generator uses.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// NewMinioClient connects to the configured endpoint.
func NewMinioClient(cfg Config) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	return client, nil
}

// Generator renders invoices and uploads them.
type Generator struct {
	store   ObjectStore
	bucket  string
	baseURL string
	issuer  string
	logger  *slog.Logger
}

// NewGenerator creates a generator. Public URLs are built from
// cfg.PublicURL, falling back to the storage endpoint.
func NewGenerator(store ObjectStore, cfg Config, logger *slog.Logger) *Generator {
	base := strings.TrimRight(cfg.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + cfg.Endpoint
	}
	return &Generator{
		store:   store,
		bucket:  cfg.Bucket,
		baseURL: base,
		issuer:  cfg.Issuer,
		logger:  logger,
	}
}

// EnsureBucket creates the invoice bucket if it does not exist.
func (g *Generator) EnsureBucket(ctx context.Context) error {
	exists, err := g.store.BucketExists(ctx, g.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", g.bucket, err)
	}
	if exists {
		return nil
	}
	if err := g.store.MakeBucket(ctx, g.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", g.bucket, err)
	}
	g.logger.Info("invoice bucket created", "bucket", g.bucket)
	return nil
}

// GenerateSettlementInvoice renders the invoice, uploads it and returns its
// public URL. Regenerating overwrites the previous object.
func (g *Generator) GenerateSettlementInvoice(ctx context.Context, settlementID string, d Details) (string, error) {
	key := ObjectKey(settlementID)
	url := g.baseURL + "/" + g.bucket + "/" + key

	doc, err := Render(d, g.issuer, url)
	if err != nil {
		return "", err
	}

	_, err = g.store.PutObject(ctx, g.bucket, key, bytes.NewReader(doc), int64(len(doc)),
		minio.PutObjectOptions{ContentType: "text/html; charset=utf-8"})
	if err != nil {
		return "", fmt.Errorf("uploading invoice %s: %w", key, err)
	}

	g.logger.Info("invoice stored", "settlement_id", settlementID, "object", key)
	return url, nil
}

// ObjectKey is where a settlement's invoice lives in the bucket.
func ObjectKey(settlementID string) string {
	return "settlements/" + settlementID + ".html"
}

var page = template.Must(template.New("invoice").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Settlement {{.D.SettlementID}}</title></head>
<body>
<h1>{{.Issuer}} settlement invoice</h1>
<table>
<tr><th>Settlement</th><td>{{.D.SettlementID}}</td></tr>
<tr><th>Partner</th><td>{{.D.PartnerName}} ({{.D.PartnerID}})</td></tr>
{{- if .D.PartnerEmail}}
<tr><th>Email</th><td>{{.D.PartnerEmail}}</td></tr>
{{- end}}
<tr><th>Status</th><td>{{.D.Status}}</td></tr>
<tr><th>Amount</th><td>{{.D.Amount}}</td></tr>
{{- if .D.UTRNumber}}
<tr><th>Payout reference</th><td>{{.D.UTRNumber}}</td></tr>
{{- end}}
<tr><th>Issued</th><td>{{.D.IssuedAt.Format "2006-01-02 15:04 MST"}}</td></tr>
</table>
<h2>Bookings</h2>
<ol>
{{- range .D.BookingIDs}}
<li>{{.}}</li>
{{- end}}
</ol>
<img alt="verification code" src="{{.QR}}">
</body>
</html>
`))

// Render produces the invoice document. The embedded QR code points at
// verifyURL.
func Render(d Details, issuer, verifyURL string) ([]byte, error) {
	png, err := qrcode.Encode(verifyURL, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("encoding qr code: %w", err)
	}

	var buf bytes.Buffer
	err = page.Execute(&buf, struct {
		D      Details
		Issuer string
		QR     template.URL
	}{
		D:      d,
		Issuer: issuer,
		QR:     template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)),
	})
	if err != nil {
		return nil, fmt.Errorf("rendering invoice: %w", err)
	}
	return buf.Bytes(), nil
}
