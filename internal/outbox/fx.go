package outbox

import (
	"context"
	"time"

	"github.com/didport/didport/internal/config"
	outboxdomain "github.com/didport/didport/internal/outbox/domain"
	"github.com/didport/didport/internal/outbox/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("outbox",
	fx.Provide(service.NewService),
	fx.Invoke(runDispatcher),
)

// runDispatcher drains the outbox on a fixed interval for the lifetime of
// the application.
func runDispatcher(lc fx.Lifecycle, cfg config.Config, svc outboxdomain.Service, log *zap.Logger) {
	interval := time.Duration(cfg.OutboxInterval) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if _, err := svc.DispatchPending(ctx, cfg.OutboxBatchSize); err != nil {
							log.Warn("outbox dispatch failed", zap.Error(err))
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
