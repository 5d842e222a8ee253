package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-donasi/internal/notify"
)

// NewTaskClient returns an asynq client on the Redis instance at redisURL.
func NewTaskClient(redisURL string) (*asynq.Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse asynq redis url: %w", err)
	}
	return asynq.NewClient(opt), nil
}

// NewTaskServer returns an asynq server processing the receipt queue.
func NewTaskServer(redisURL string, concurrency int, logger zerolog.Logger) (*asynq.Server, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse asynq redis url: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency:     concurrency,
		Queues:          map[string]int{notify.ReceiptQueue: 1},
		ShutdownTimeout: 20 * time.Second,
		Logger:          asynqLogger{l: logger.With().Str("component", "asynq").Logger()},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Warn().Err(err).
				Str("task", task.Type()).
				Int("retried", retried).
				Int("max_retry", maxRetry).
				Msg("task_failed")
		}),
	}), nil
}

// asynqLogger adapts zerolog to asynq.Logger.
type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...any) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
