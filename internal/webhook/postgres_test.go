//go:build integration

package webhook

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"payrecon/internal/common/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("PAYRECON_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PAYRECON_TEST_DATABASE_URL not set")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	m, err := database.NewMigrator(url, logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Up(); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}

	db, err := database.New(context.Background(), database.Config{
		URL:             url,
		MaxConns:        8,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: time.Minute,
	}, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(db.Close)
	return db
}

func TestPostgresCreateIfAbsentRace(t *testing.T) {
	db := openTestDB(t)
	store := NewPostgresStore(db)
	ctx := context.Background()
	id := "evt_" + ulid.Make().String()

	const racers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.CreateIfAbsent(ctx, &Record{EventID: id, Source: DefaultSource, EventType: "payment.captured", Payload: []byte(`{}`)})
			if err != nil {
				t.Errorf("CreateIfAbsent: %v", err)
				return
			}
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("created = %d, want exactly one insert", created)
	}

	if err := store.Complete(ctx, id, nil); err != nil {
		t.Fatal(err)
	}
	recs, err := store.ListReplayable(ctx, time.Now().Add(time.Hour), 5, 1000)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range recs {
		if r.EventID == id {
			t.Error("completed event listed for replay")
		}
	}
}
