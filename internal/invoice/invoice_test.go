package invoice

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"payrecon/internal/common/money"
)

type memObjects struct {
	buckets map[string]bool
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newMemObjects() *memObjects {
	return &memObjects{buckets: map[string]bool{}, objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memObjects) BucketExists(_ context.Context, bucket string) (bool, error) {
	return m.buckets[bucket], nil
}

func (m *memObjects) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	m.buckets[bucket] = true
	return nil
}

func (m *memObjects) PutObject(_ context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if m.putErr != nil {
		return minio.UploadInfo{}, m.putErr
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if n != size {
		return minio.UploadInfo{}, errors.New("size mismatch")
	}
	m.objects[bucket+"/"+object] = buf.Bytes()
	m.types[bucket+"/"+object] = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: n}, nil
}

func details() Details {
	return Details{
		SettlementID: "01SET",
		PartnerID:    "partner_1",
		PartnerName:  "Tom & Jerry <Tours>",
		BookingIDs:   []string{"bk_1", "bk_2"},
		Amount:       money.New(300000, money.INR),
		Status:       "paid",
		UTRNumber:    "UTR123",
		IssuedAt:     time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC),
	}
}

func TestRender(t *testing.T) {
	doc, err := Render(details(), "payrecon", "https://cdn.example/invoices/settlements/01SET.html")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := string(doc)

	for _, want := range []string{
		"01SET",
		"Tom &amp; Jerry &lt;Tours&gt;",
		"₹3000.00",
		"UTR123",
		"<li>bk_1</li>",
		"<li>bk_2</li>",
		`src="data:image/png;base64,`,
		"2026-01-02 03:04 UTC",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered invoice missing %q", want)
		}
	}
	if strings.Contains(out, "<Tours>") {
		t.Error("partner name was not escaped")
	}
}

func TestGenerateSettlementInvoice(t *testing.T) {
	store := newMemObjects()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := NewGenerator(store, Config{Endpoint: "minio:9000", Bucket: "invoices", Issuer: "payrecon"}, logger)

	if err := g.EnsureBucket(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !store.buckets["invoices"] {
		t.Fatal("bucket not created")
	}

	url, err := g.GenerateSettlementInvoice(context.Background(), "01SET", details())
	if err != nil {
		t.Fatalf("GenerateSettlementInvoice: %v", err)
	}
	if url != "http://minio:9000/invoices/settlements/01SET.html" {
		t.Errorf("url = %q", url)
	}
	obj, ok := store.objects["invoices/settlements/01SET.html"]
	if !ok || !bytes.Contains(obj, []byte("01SET")) {
		t.Error("invoice object not stored")
	}
	if ct := store.types["invoices/settlements/01SET.html"]; !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}

	store.putErr = errors.New("unavailable")
	if _, err := g.GenerateSettlementInvoice(context.Background(), "01SET", details()); err == nil {
		t.Error("upload failure not reported")
	}
}

func TestPublicURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := NewGenerator(newMemObjects(), Config{Endpoint: "minio:9000", Bucket: "inv", PublicURL: "https://cdn.example/"}, logger)
	url, err := g.GenerateSettlementInvoice(context.Background(), "X", details())
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://cdn.example/inv/settlements/X.html" {
		t.Errorf("url = %q", url)
	}
}
