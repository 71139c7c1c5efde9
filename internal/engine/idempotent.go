package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mmynk/splitledger/internal/idempotency"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// retry runs op until it succeeds, fails permanently or runs out of attempts.
// Only errors wrapping models.ErrTransient are retried.
func (e *Engine) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.RetryInitialInterval
	b.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err != nil && !errors.Is(err, models.ErrTransient) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(e.cfg.StorageRetries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			e.metrics.StorageRetry()
			e.logger.WarnContext(ctx, "Retrying storage operation", "error", err, "backoff", next)
		}),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	return err
}

// commit persists b with retries.
func (e *Engine) commit(ctx context.Context, b storage.Batch) error {
	return e.retry(ctx, func() error { return e.store.Commit(ctx, b) })
}

// idempotent runs fn at most once per (operation, actor, requestID). A repeat
// with the same request returns the first result; a repeat with a different
// request is rejected.
func idempotent[T any](ctx context.Context, e *Engine, operation, actor, requestID string, request any, fn func() (T, error)) (T, error) {
	var zero T
	if requestID == "" {
		return zero, models.Validationf("request id is required")
	}
	hash, err := idempotency.Hash(request)
	if err != nil {
		return zero, models.Validationf("unhashable request: %v", err)
	}
	key := idempotency.Key(operation, actor, requestID)

	var (
		rec     idempotency.Record
		claimed bool
	)
	err = e.retry(ctx, func() error {
		var err error
		rec, claimed, err = e.keys.Claim(ctx, key, hash, e.cfg.ClaimLease)
		return err
	})
	if err != nil {
		return zero, err
	}
	if !claimed {
		var out T
		if err := json.Unmarshal(rec.Response, &out); err != nil {
			return zero, models.Consistencyf("stored response for %s is unreadable: %v", requestID, err)
		}
		e.metrics.IdempotentReplay(operation)
		e.logger.Info("Replayed idempotent request", "operation", operation, "request_id", requestID)
		return out, nil
	}

	out, err := fn()
	if err != nil {
		// Let the caller retry. Use a fresh context so a cancelled request
		// does not leave the key claimed.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if relErr := e.keys.Release(relCtx, key); relErr != nil {
			e.logger.Warn("Failed to release idempotency key", "key", key, "error", relErr)
		}
		return zero, err
	}

	response, err := json.Marshal(out)
	if err == nil {
		err = e.retry(ctx, func() error { return e.keys.Complete(ctx, key, response, e.cfg.IdempotencyTTL) })
	}
	if err != nil {
		// The write itself is durable; a retry is caught by the event log's
		// unique request id.
		e.logger.Warn("Failed to complete idempotency key", "key", key, "error", err)
	}
	return out, nil
}
