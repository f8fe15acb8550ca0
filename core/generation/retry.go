package generation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/siherrmann/medrag/helper"
	"github.com/siherrmann/medrag/model"
)

// RetryBackOff returns the exponential schedule between generation attempts:
// base, 2*base, 4*base and so on, without jitter
func RetryBackOff(base time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = base * 8
	return b
}

// GenerateWithRetry runs Generate up to the configured number of attempts,
// waiting with exponential backoff between failed attempts. Cancellation of
// ctx stops the retries.
func (g *Generator) GenerateWithRetry(ctx context.Context, query *model.StructuredQuery, candidates []model.RetrievalCandidate, opts ...GenerateOption) (*GenerationResult, error) {
	attempts := g.config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	tries := 0
	operation := func() (*GenerationResult, error) {
		tries++
		result, err := g.Generate(ctx, query, candidates, opts...)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		result.Attempts = tries
		return result, nil
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(RetryBackOff(g.config.RetryBaseDelay)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			g.logger.Warn(
				"Generation attempt failed, retrying",
				slog.Int("attempt", tries),
				slog.Duration("backoff", next),
				slog.String("error", err.Error()),
			)
		}),
	)
	if err != nil {
		g.logger.Error("Generation failed", slog.Int("attempts", tries), slog.String("error", err.Error()))
		return nil, helper.NewError("generate with retry", err)
	}
	return result, nil
}
