//go:build integration

package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"payrecon/internal/common/database"
	"payrecon/internal/common/money"
)

// openTestDB connects to PAYRECON_TEST_DATABASE_URL and applies migrations.
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

func TestPostgresConcurrentOverlap(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	partner := "p_" + ulid.Make().String()
	b1, b2 := "b_"+ulid.Make().String(), "b_"+ulid.Make().String()
	if _, err := db.Exec(ctx, `INSERT INTO partners (id, name, kyc_status) VALUES ($1, 'Test', 'approved')`, partner); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{b1, b2} {
		if _, err := db.Exec(ctx, `INSERT INTO bookings (id, partner_id, user_id, amount_minor) VALUES ($1, $2, 'u1', 1000)`, id, partner); err != nil {
			t.Fatal(err)
		}
	}

	manager := NewManager(NewPostgresStore(db), nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	const racers = 4
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		overlaps  int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.Create(ctx, CreateRequest{PartnerID: partner, BookingIDs: []string{b1, b2}, Amount: money.New(2000, money.INR)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrOverlap):
				overlaps++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || overlaps != racers-1 {
		t.Errorf("successes = %d, overlaps = %d", successes, overlaps)
	}

	var claimed int
	if err := db.QueryRow(ctx, `SELECT count(*) FROM settlement_bookings WHERE booking_id = ANY($1)`, []string{b1, b2}).Scan(&claimed); err != nil {
		t.Fatal(err)
	}
	if claimed != 2 {
		t.Errorf("settlement_bookings rows = %d, want 2", claimed)
	}
}
