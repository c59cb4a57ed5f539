package pipeline

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/cnabflow/cnabflow/internal/logger"
	"github.com/cnabflow/cnabflow/internal/telemetry"
	"github.com/cnabflow/cnabflow/pkg/cnab"
	"github.com/cnabflow/cnabflow/pkg/hash"
	"github.com/cnabflow/cnabflow/pkg/metrics"
	"github.com/cnabflow/cnabflow/pkg/models"
	"github.com/cnabflow/cnabflow/pkg/store"
)

// Outcome is the terminal result of processing one line.
type Outcome int

const (
	// OutcomeSuccess means the transaction and its line hash committed.
	OutcomeSuccess Outcome = iota
	// OutcomeSkipped means an identical line was already committed, here or
	// in another upload.
	OutcomeSkipped
	// OutcomeFailed means the line could not be parsed or committed within
	// the retry budget.
	OutcomeFailed
)

// String returns the outcome label used in logs and spans.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Processor turns one raw line into one committed transaction, exactly once.
//
// The dedup pre-check avoids most wasted work; the unique indexes on the
// idempotency key and the line hash are the authoritative backstop when two
// workers race on overlapping lines after a recovery re-enqueue.
type Processor struct {
	store      *store.Store
	metrics    *metrics.Metrics
	maxRetries int
	retryDelay time.Duration
}

// NewProcessor creates a line processor with the given retry budget.
func NewProcessor(st *store.Store, m *metrics.Metrics, cfg Config) *Processor {
	cfg.ApplyDefaults()
	return &Processor{
		store:      st,
		metrics:    m,
		maxRetries: cfg.MaxRetryPerLine,
		retryDelay: cfg.RetryDelay,
	}
}

// Process handles one line of an upload and returns its terminal outcome:
//
//  1. Hash the line and pre-check the global dedup index; a known line is
//     skipped without a unit of work.
//  2. Parse. Parse errors are deterministic, so they fail immediately with
//     no retry.
//  3. Commit the transaction row and the line-hash row in a single unit of
//     work. A unique violation on either table means another worker won the
//     race; the line counts as skipped. Other errors retry up to
//     MaxRetryPerLine with a linear delay.
func (p *Processor) Process(ctx context.Context, line []byte, index int, uploadID, fileHash string) Outcome {
	start := time.Now()
	ctx, span := telemetry.StartUploadSpan(ctx, telemetry.SpanProcessLine, uploadID,
		telemetry.LineIndex(int64(index)))
	outcome := p.process(ctx, line, index, uploadID, fileHash)
	span.SetAttributes(telemetry.LineOutcome(outcome.String()))
	span.End()

	p.metrics.ObserveLineDuration(time.Since(start))
	return outcome
}

func (p *Processor) process(ctx context.Context, line []byte, index int, uploadID, fileHash string) Outcome {
	lineHash := hash.LineHash(line)

	unique, err := p.store.IsLineUnique(ctx, lineHash)
	if err != nil {
		// Pre-check is an optimization; the unique index still protects us.
		logger.DebugCtx(ctx, "Line dedup pre-check failed, relying on index",
			"upload_id", uploadID, "line", index, "error", err)
	} else if !unique {
		return OutcomeSkipped
	}

	record, err := cnab.ParseLine(line, index)
	if err != nil {
		logger.WarnCtx(ctx, "Line failed to parse",
			"upload_id", uploadID, "line", index, "error", err)
		return OutcomeFailed
	}

	txn := &models.Transaction{
		BankCode:       record.BankCode,
		NatureCode:     int(record.Nature),
		AmountCents:    record.AmountCents,
		CPF:            record.CPF,
		Card:           record.Card,
		StoreOwner:     record.StoreOwner,
		StoreName:      record.StoreName,
		OccurredAt:     record.Date,
		OccurredTime:   record.Time,
		IdempotencyKey: models.NewIdempotencyKey(fileHash, index),
		FileUploadID:   uploadID,
	}

	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		err := p.store.Unit(ctx, func(tx *gorm.DB) error {
			if err := p.store.AddTransactionToUnit(tx, txn); err != nil {
				return err
			}
			buf := store.NewLineHashBuffer(uploadID)
			buf.Record(lineHash, string(line))
			return p.store.FlushLineHashesToUnit(tx, buf)
		})
		if err == nil {
			return OutcomeSuccess
		}
		if errors.Is(err, models.ErrDuplicateTransaction) || errors.Is(err, models.ErrDuplicateLineHash) {
			// A concurrent worker committed this line first.
			return OutcomeSkipped
		}

		logger.WarnCtx(ctx, "Line commit failed",
			"upload_id", uploadID, "line", index, "attempt", attempt, "error", err)
		if attempt == p.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return OutcomeFailed
		case <-time.After(p.retryDelay * time.Duration(attempt)):
		}
	}
	return OutcomeFailed
}
