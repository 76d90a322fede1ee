// Package reviewqueue stores deduplicated payment anomalies for operator follow-up.
package reviewqueue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/paycore/pkg/db/models"
	"github.com/angelmondragon/paycore/pkg/enums"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/metrics"
	"github.com/angelmondragon/paycore/pkg/pagination"
)

// Entry is an anomaly to enqueue. DedupeKey is usually built with DedupeKey.
type Entry struct {
	IntentID  *uuid.UUID
	Reason    enums.ReviewReason
	Details   any
	DedupeKey string
}

// Notifier is told about entries the first time they are inserted.
type Notifier interface {
	ReviewOpened(ctx context.Context, entry models.ManualReviewEntry) error
}

// Option configures a Queue.
type Option func(*Queue)

// WithNotifier publishes newly inserted entries.
func WithNotifier(n Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

// WithMetrics counts inserted entries by reason.
func WithMetrics(m *metrics.PaymentMetrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithLogger attaches a logger for notifier failures.
func WithLogger(logg *logger.Logger) Option {
	return func(q *Queue) { q.logg = logg }
}

// Queue is the manual review queue.
type Queue struct {
	repo     Repository
	notifier Notifier
	metrics  *metrics.PaymentMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// NewQueue wires a queue over the repository.
func NewQueue(repo Repository, opts ...Option) (*Queue, error) {
	if repo == nil {
		return nil, fmt.Errorf("review queue repository required")
	}
	q := &Queue{repo: repo, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q, nil
}

// DedupeKey hashes the parts joined by ":" into a hex sha256 digest.
func DedupeKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}

// Upsert inserts the entry unless one with the same dedupe key exists. It reports whether a row was inserted.
func (q *Queue) Upsert(ctx context.Context, entry Entry) (bool, error) {
	if !entry.Reason.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid review reason %q", entry.Reason))
	}
	if strings.TrimSpace(entry.DedupeKey) == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "dedupe key is required")
	}

	details, err := encodeDetails(entry.Details)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode review details")
	}

	row := &models.ManualReviewEntry{
		ID:        uuid.New(),
		IntentID:  entry.IntentID,
		Reason:    entry.Reason,
		Details:   details,
		DedupeKey: entry.DedupeKey,
		CreatedAt: q.now().UTC().Truncate(time.Second),
	}
	inserted, err := q.repo.InsertIgnore(ctx, row)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert review entry")
	}
	if !inserted {
		return false, nil
	}

	q.metrics.IncReviewUpsert(string(entry.Reason))
	if q.notifier != nil {
		if err := q.notifier.ReviewOpened(ctx, *row); err != nil && q.logg != nil {
			q.logg.Error(q.logg.WithField(ctx, "dedupe_key", row.DedupeKey), "review.notify.failed", err)
		}
	}
	return true, nil
}

// Page is one slice of the open queue. NextCursor is empty on the last page.
type Page struct {
	Entries    []models.ManualReviewEntry
	NextCursor string
}

// ListOpen returns unresolved entries, oldest first.
func (q *Queue) ListOpen(ctx context.Context, params pagination.Params) (*Page, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	entries, err := q.repo.ListOpen(ctx, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list review entries")
	}
	entries, next := pagination.Trim(entries, params.Limit, func(e models.ManualReviewEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})
	return &Page{Entries: entries, NextCursor: next}, nil
}

// Resolve closes an open entry. Resolving an already-resolved entry is a state conflict.
func (q *Queue) Resolve(ctx context.Context, id uuid.UUID, operator, note string) (*models.ManualReviewEntry, error) {
	operator = strings.TrimSpace(operator)
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "entry id is required")
	}
	if operator == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "operator is required")
	}

	resolved, err := q.repo.MarkResolved(ctx, id, operator, strings.TrimSpace(note), q.now().UTC().Truncate(time.Second))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve review entry")
	}

	entry, err := q.repo.FindByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "review entry not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load review entry")
	}
	if !resolved {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "review entry already resolved").
			WithDetails(map[string]any{"resolved_by": entry.ResolvedBy})
	}
	return entry, nil
}

func encodeDetails(details any) (json.RawMessage, error) {
	switch v := details.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage(`{}`), nil
		}
		return v, nil
	}
	return json.Marshal(details)
}
