// Package replacer empties derived collections in bounded batches before
// they are rewritten.
package replacer

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
)

// DefaultBatchSize is used when a non-positive batch size is configured.
const DefaultBatchSize = 50

// Result summarizes one Purge call.
type Result struct {
	Collection string `json:"collection" yaml:"collection"`
	Batches    int    `json:"batches" yaml:"batches"`
	Deleted    int64  `json:"deleted" yaml:"deleted"`
}

// BatchHook observes every committed batch.
type BatchHook func(collection string, batch int, deleted int64)

// Replacer deletes collections one id-ordered page at a time.
type Replacer struct {
	db        *gorm.DB
	logger    *slog.Logger
	batchSize int
	hooks     []BatchHook
}

// Option configures a Replacer.
type Option func(*Replacer)

// WithBatchHook registers a hook called after each committed batch.
func WithBatchHook(hook BatchHook) Option {
	return func(r *Replacer) {
		r.hooks = append(r.hooks, hook)
	}
}

// New creates a Replacer deleting at most batchSize documents per batch.
func New(db *gorm.DB, logger *slog.Logger, batchSize int, opts ...Option) *Replacer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	r := &Replacer{
		db:        db,
		logger:    logger,
		batchSize: batchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BatchSize returns the configured page size.
func (r *Replacer) BatchSize() int {
	return r.batchSize
}

// Purge deletes every document of collection. Each batch selects the first
// batchSize ids in id order and deletes them in one transaction; the loop
// ends when a page comes back empty. Batches already committed stay deleted
// when a later one fails.
func (r *Replacer) Purge(ctx context.Context, collection string) (Result, error) {
	result := Result{Collection: collection}

	for {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("purge of %s interrupted after %d batches: %w", collection, result.Batches, err)
		}

		found, deleted, err := r.deleteBatch(ctx, collection)
		if err != nil {
			r.logger.Error("Failed to delete batch",
				slog.String("collection", collection),
				slog.Int("batch", result.Batches+1),
				slog.Int64("deleted_so_far", result.Deleted),
				slog.Any("error", err))
			return result, fmt.Errorf("failed to delete batch %d of %s: %w", result.Batches+1, collection, err)
		}
		if found == 0 {
			break
		}

		result.Batches++
		result.Deleted += deleted
		for _, hook := range r.hooks {
			hook(collection, result.Batches, deleted)
		}
	}

	r.logger.Info("Purged collection",
		slog.String("collection", collection),
		slog.Int("batches", result.Batches),
		slog.Int64("deleted", result.Deleted))

	return result, nil
}

func (r *Replacer) deleteBatch(ctx context.Context, collection string) (int, int64, error) {
	var found int
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Table(collection).
			Order("id ASC").
			Limit(r.batchSize).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("failed to list ids: %w", err)
		}
		found = len(ids)
		if found == 0 {
			return nil
		}

		res := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE id IN ?", quoteIdent(collection)), ids)
		if res.Error != nil {
			return fmt.Errorf("failed to delete ids: %w", res.Error)
		}
		deleted = res.RowsAffected
		return nil
	})
	return found, deleted, err
}

func quoteIdent(name string) string {
	return "`" + name + "`"
}
