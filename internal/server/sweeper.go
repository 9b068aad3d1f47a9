package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KungFuJesus/ntetris/internal/protocol"
)

// staleReason is sent to players evicted by the sweeper
const staleReason = "stale connection"

// Sweeper periodically charges every player's keepalive budget and kicks
// the players that ran out. Sweeps run on the server's worker pool.
type Sweeper struct {
	server   *UDPServer
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewSweeper creates a sweeper for srv ticking every interval
func NewSweeper(srv *UDPServer, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		server:   srv,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Decrement is the number of budget seconds charged by one sweep
func (w *Sweeper) Decrement() int {
	return max(1, int(w.interval.Seconds()))
}

// Start begins ticking until ctx is done or Stop is called
func (w *Sweeper) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.logger.Info("Expiry sweeper started",
		slog.Duration("interval", w.interval),
		slog.Int("decrement", w.Decrement()),
		slog.Int("budget", w.server.registry.KeepaliveBudget()),
	)

	go w.run(ctx)
}

// Stop halts the ticker and waits for the ticking goroutine to exit.
// A sweep already queued on the pool still runs.
func (w *Sweeper) Stop() {
	w.once.Do(func() {
		if w.cancel == nil {
			close(w.done)
			return
		}
		w.cancel()
		<-w.done
		w.logger.Info("Expiry sweeper stopped")
	})
}

func (w *Sweeper) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.server.pool.SubmitWait(ctx, func(workerID int) { w.Sweep() })
			if err != nil {
				if errors.Is(err, ErrPoolStopped) || errors.Is(err, context.Canceled) {
					return
				}
				w.logger.Warn("Failed to schedule sweep", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep runs one expiry pass and kicks every evicted player
func (w *Sweeper) Sweep() {
	start := time.Now()

	_, span := w.server.tracer.Start(w.server.ctx, "ntetris.sweep")
	defer span.End()

	evicted := w.server.registry.SweepExpired(w.Decrement())

	for _, p := range evicted {
		w.server.playersExpired.Add(1)
		w.server.metrics.RecordPlayerExpired(time.Since(p.RegisteredAt).Seconds())
		w.server.send(protocol.NewKick(staleReason), p.Addr)

		e := newPlayerEvent(EventExpired, p)
		e.Reason = staleReason
		w.server.events.Publish(e)

		w.logger.Info("Player expired",
			slog.Uint64("player_id", uint64(p.ID)),
			slog.String("name", p.Name),
			slog.Time("last_activity", p.LastActivity),
		)
	}

	remaining := w.server.registry.Len()
	w.server.metrics.SetActivePlayers(remaining)
	w.server.metrics.SetRetiredPlayerIDs(w.server.registry.RetiredLen())
	w.server.metrics.RecordSweep(time.Since(start).Seconds())

	span.SetAttributes(
		attribute.Int("ntetris.evicted", len(evicted)),
		attribute.Int("ntetris.remaining", remaining),
	)
}
