// Package dlq keeps plans whose commit was rejected so they can be inspected
// and retried later.
package dlq

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/time/rate"

	"github.com/rohankatakam/revgraph/internal/errors"
)

var (
	entriesBucket = []byte("entries")
	digestBucket  = []byte("digests")
)

// Entry represents a dead letter queue entry
type Entry struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Digest       string         `json:"digest"`
	Body         []byte         `json:"body"`
	Parent       int64          `json:"parent"`
	ErrorType    string         `json:"error_type"`
	ErrorMessage string         `json:"error_message"`
	RetryCount   int            `json:"retry_count"`
	LastRetryAt  *time.Time     `json:"last_retry_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Queue manages rejected plans in a bbolt file.
type Queue struct {
	db     *bolt.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens or creates the queue file at path.
func Open(path string) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.FileSystemError(err, "create queue directory")
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.DatabaseError(err, "open dead letter queue").WithContext("path", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{entriesBucket, digestBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.DatabaseError(err, "initialize dead letter queue")
	}
	return &Queue{
		db:     db,
		logger: slog.Default().With("component", "dlq"),
		now:    time.Now,
	}, nil
}

// Close releases the queue file.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Digest identifies a plan body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Enqueue records a rejected plan. A plan with the same body that is already
// queued has its retry count incremented instead.
func (q *Queue) Enqueue(ctx context.Context, name string, body []byte, parent int64, cause error, metadata map[string]any) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if cause == nil {
		return Entry{}, errors.InternalErrorf("enqueue without an error")
	}
	if metadata == nil {
		metadata = make(map[string]any)
	}

	now := q.now().UTC()
	digest := Digest(body)
	var out Entry

	err := q.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(entriesBucket)
		digests := tx.Bucket(digestBucket)

		if id := digests.Get([]byte(digest)); id != nil {
			if err := json.Unmarshal(entries.Get(id), &out); err != nil {
				return err
			}
			out.RetryCount++
			out.LastRetryAt = &now
		} else {
			out = Entry{
				ID:        uuid.NewString(),
				Name:      name,
				Digest:    digest,
				Body:      append([]byte(nil), body...),
				CreatedAt: now,
			}
		}
		out.Parent = parent
		out.ErrorType = errors.GetType(cause).String()
		out.ErrorMessage = cause.Error()
		out.UpdatedAt = now
		out.Metadata = metadata

		raw, err := json.Marshal(out)
		if err != nil {
			return err
		}
		if err := entries.Put([]byte(out.ID), raw); err != nil {
			return err
		}
		return digests.Put([]byte(digest), []byte(out.ID))
	})
	if err != nil {
		return Entry{}, errors.DatabaseError(err, "failed to enqueue plan to DLQ")
	}

	q.logger.Warn("plan enqueued to DLQ",
		"id", out.ID,
		"plan", name,
		"retry_count", out.RetryCount,
		"error", out.ErrorMessage,
	)
	return out, nil
}

// Get returns one entry.
func (q *Queue) Get(ctx context.Context, id string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	var e Entry
	err := q.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(entriesBucket).Get([]byte(id))
		if raw == nil {
			return errors.ValidationErrorf("no DLQ entry %q", id)
		}
		return json.Unmarshal(raw, &e)
	})
	return e, err
}

// List returns every entry, oldest first.
func (q *Queue) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Entry
	err := q.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				q.logger.Warn("skipping unreadable DLQ entry", "id", string(k), "error", err)
				return nil
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, errors.DatabaseError(err, "failed to read DLQ")
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetPendingRetries returns entries ready for retry (retry_count < max)
func (q *Queue) GetPendingRetries(ctx context.Context, maxRetries int) ([]Entry, error) {
	all, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	pending := all[:0]
	for _, e := range all {
		if e.RetryCount < maxRetries {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

// GetRecentFailures returns the N most recently updated entries
func (q *Queue) GetRecentFailures(ctx context.Context, limit int) ([]Entry, error) {
	all, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// MarkResolved removes an entry after a successful retry or a manual drop.
func (q *Queue) MarkResolved(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	removed := false
	err := q.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(entriesBucket)
		raw := entries.Get([]byte(id))
		if raw == nil {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err == nil {
			if err := tx.Bucket(digestBucket).Delete([]byte(e.Digest)); err != nil {
				return err
			}
		}
		removed = true
		return entries.Delete([]byte(id))
	})
	if err != nil {
		return errors.DatabaseError(err, "failed to delete DLQ entry")
	}
	if !removed {
		return errors.ValidationErrorf("no DLQ entry %q", id)
	}

	q.logger.Info("plan resolved and removed from DLQ", "id", id)
	return nil
}

// Stats contains DLQ statistics
type Stats struct {
	TotalEntries     int
	RetryableEntries int
	ExhaustedRetries int
}

// GetStats counts entries against maxRetries.
func (q *Queue) GetStats(ctx context.Context, maxRetries int) (Stats, error) {
	all, err := q.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{TotalEntries: len(all)}
	for _, e := range all {
		if e.RetryCount < maxRetries {
			stats.RetryableEntries++
		} else {
			stats.ExhaustedRetries++
		}
	}
	return stats, nil
}

// PurgeOld removes entries created before now-olderThan.
func (q *Queue) PurgeOld(ctx context.Context, olderThan time.Duration) (int, error) {
	all, err := q.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := q.now().UTC().Add(-olderThan)
	purged := 0
	for _, e := range all {
		if !e.CreatedAt.Before(cutoff) {
			continue
		}
		if err := q.MarkResolved(ctx, e.ID); err != nil {
			return purged, err
		}
		purged++
	}
	if purged > 0 {
		q.logger.Info("purged old DLQ entries", "count", purged, "older_than", olderThan)
	}
	return purged, nil
}

// RetryFunc replays one entry. Returning nil resolves it.
type RetryFunc func(ctx context.Context, e Entry) error

// RetryResult summarizes a Retry pass.
type RetryResult struct {
	Resolved int
	Failed   int
}

// Retry replays every pending entry through fn, at most perSecond entries per
// second. Successful entries are removed; failures are re-enqueued with a
// higher retry count. Errors from fn do not stop the pass.
func (q *Queue) Retry(ctx context.Context, maxRetries int, perSecond float64, fn RetryFunc) (RetryResult, error) {
	var res RetryResult
	pending, err := q.GetPendingRetries(ctx, maxRetries)
	if err != nil {
		return res, err
	}
	if perSecond <= 0 {
		return res, errors.ValidationErrorf("retry rate must be positive, got %v", perSecond)
	}

	limiter := rate.NewLimiter(rate.Limit(perSecond), 1)
	for _, e := range pending {
		if err := limiter.Wait(ctx); err != nil {
			return res, err
		}

		logger := q.logger.With("id", e.ID, "plan", e.Name, "attempt", e.RetryCount+1)
		if err := fn(ctx, e); err != nil {
			res.Failed++
			logger.Warn("retry failed", "error", err)
			if _, qerr := q.Enqueue(ctx, e.Name, e.Body, e.Parent, err, e.Metadata); qerr != nil {
				return res, fmt.Errorf("re-enqueue %s: %w", e.ID, qerr)
			}
			continue
		}

		if err := q.MarkResolved(ctx, e.ID); err != nil {
			return res, err
		}
		res.Resolved++
		logger.Info("retry succeeded")
	}
	return res, nil
}
