package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// MaxBatchSize is the maximum number of statements sent in one pgx batch.
const MaxBatchSize = 400

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = MaxBatchSize
	}
	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// SendChunked queues one statement per item and sends them in batches of at
// most MaxBatchSize. Chunks are sent one after another; each chunk is fully
// drained before the next is queued. Returns the total rows affected.
func SendChunked[T any](ctx context.Context, q Querier, items []T, queue func(b *pgx.Batch, item T)) (int64, error) {
	var affected int64
	for i, chunk := range Chunk(items, MaxBatchSize) {
		b := &pgx.Batch{}
		for _, item := range chunk {
			queue(b, item)
		}
		if b.Len() != len(chunk) {
			return affected, fmt.Errorf("batch %d: queued %d statements for %d items", i, b.Len(), len(chunk))
		}

		n, err := drain(ctx, q, b)
		affected += n
		if err != nil {
			return affected, fmt.Errorf("batch %d: %w", i, err)
		}
	}
	return affected, nil
}

func drain(ctx context.Context, q Querier, b *pgx.Batch) (int64, error) {
	br := q.SendBatch(ctx, b)
	var affected int64
	for i := 0; i < b.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return affected, err
		}
		affected += tag.RowsAffected()
	}
	return affected, br.Close()
}
