// Package worker owns the 1:1 mapping between a tenant and its running
// session handler, and the typed-envelope control channel to it.
package worker

import (
	"context"
	"errors"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

// ErrChannelClosed is returned when sending on a torn-down IPC connection.
var ErrChannelClosed = errors.New("worker ipc channel closed")

// ErrChannelFull is returned when a command cannot be buffered because the
// worker has stopped draining. The command is dropped, never queued late.
var ErrChannelFull = errors.New("worker ipc channel full")

// Conn is the bidirectional envelope channel between the control plane and
// one worker. The control plane writes commands with Send and reads worker
// events from Inbound; the worker side does the reverse via the
// WorkerSide view.
type Conn struct {
	toWorker   chan models.Envelope
	fromWorker chan models.Envelope
	done       chan struct{}
}

// NewConn creates a connection with bounded buffers. A command send never
// blocks: a full toWorker buffer drops the command with ErrChannelFull so a
// stalled runtime cannot wedge the caller.
func NewConn(buffer int) *Conn {
	return &Conn{
		toWorker:   make(chan models.Envelope, buffer),
		fromWorker: make(chan models.Envelope, buffer),
		done:       make(chan struct{}),
	}
}

// Send delivers a command envelope to the worker, dropping it when the
// worker's buffer is full.
func (c *Conn) Send(env models.Envelope) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	case c.toWorker <- env:
		return nil
	default:
		return ErrChannelFull
	}
}

// Inbound is the stream of worker → control envelopes.
func (c *Conn) Inbound() <-chan models.Envelope {
	return c.fromWorker
}

// Close tears the connection down. Idempotent.
func (c *Conn) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// Done is closed when the connection is torn down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// WorkerSide is the view handed to a runtime: it reads commands and emits
// events.
type WorkerSide struct {
	conn *Conn
}

// Worker returns the runtime-facing view of the connection.
func (c *Conn) Worker() *WorkerSide {
	return &WorkerSide{conn: c}
}

// Commands is the stream of control → worker envelopes.
func (w *WorkerSide) Commands() <-chan models.Envelope {
	return w.conn.toWorker
}

// Emit delivers an event envelope to the control plane.
func (w *WorkerSide) Emit(ctx context.Context, env models.Envelope) error {
	select {
	case <-w.conn.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	case w.conn.fromWorker <- env:
		return nil
	}
}

// Done is closed when the connection is torn down.
func (w *WorkerSide) Done() <-chan struct{} {
	return w.conn.done
}
