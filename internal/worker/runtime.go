package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

// Runtime is one independently schedulable, independently crashable
// execution unit for a tenant's platform session. A crash in one tenant's
// runtime must never corrupt another's; the manager guarantees this by
// running each runtime in its own goroutine with panic isolation and by
// communicating only through the envelope channel.
//
// Run blocks until the context is canceled, the connection closes, or the
// session fails. A nil return is a clean shutdown; any error is an
// unexpected exit and subject to the restart policy.
type Runtime interface {
	Run(ctx context.Context, side *WorkerSide) error
}

// RuntimeFactory builds the runtime for a tenant when its worker starts.
type RuntimeFactory func(tenantID string, tier models.Tier) (Runtime, error)

// LoopbackRuntime is the built-in runtime used when no external platform
// client attaches: it acknowledges commands and emits a ready status, which
// makes local development and tests independent of a live messaging
// session. Inbound traffic for loopback workers arrives via the HTTP
// message injection endpoint instead of a platform connection.
type LoopbackRuntime struct {
	TenantID string

	// HeartbeatInterval controls the status cadence. Zero disables
	// periodic heartbeats.
	HeartbeatInterval time.Duration
}

// Run emits a ready status, then answers heartbeats and drains commands
// until shutdown.
func (r *LoopbackRuntime) Run(ctx context.Context, side *WorkerSide) error {
	readyEnv := models.NewEnvelope(models.MsgStatusUpdate, models.StatusUpdatePayload{Status: string(models.WorkerReady)})
	if err := side.Emit(ctx, readyEnv); err != nil {
		return err
	}

	var heartbeat <-chan time.Time
	if r.HeartbeatInterval > 0 {
		t := time.NewTicker(r.HeartbeatInterval)
		defer t.Stop()
		heartbeat = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-side.Done():
			return nil
		case <-heartbeat:
			env := models.NewEnvelope(models.MsgStatusUpdate, models.StatusUpdatePayload{Status: string(models.WorkerReady)})
			if err := side.Emit(ctx, env); err != nil {
				return nil
			}
		case cmd, ok := <-side.Commands():
			if !ok {
				return nil
			}
			switch cmd.Type {
			case models.MsgShutdown:
				return nil
			case models.MsgSendMessage:
				// Loopback has no platform session; delivery is a log line.
				log.Debug().Str("tenant", r.TenantID).Msg("Loopback worker dropping outbound message")
			default:
				log.Debug().
					Str("tenant", r.TenantID).
					Str("type", string(cmd.Type)).
					Msg("Loopback worker acknowledged command")
			}
		}
	}
}
