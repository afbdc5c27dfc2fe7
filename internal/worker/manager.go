package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/config"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/metrics"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/store"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/tier"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

// readyTimeout bounds how long StartWorker waits for the runtime's first
// ready signal before returning the current status.
const readyTimeout = 30 * time.Second

// connBuffer is the envelope buffer size per direction.
const connBuffer = 64

// ErrWorkerSpawn is returned when a worker's runtime could not be created.
type ErrWorkerSpawn struct {
	TenantID string
	Err      error
}

func (e *ErrWorkerSpawn) Error() string {
	return fmt.Sprintf("tenant %s: worker spawn failed: %v", e.TenantID, e.Err)
}

func (e *ErrWorkerSpawn) Unwrap() error { return e.Err }

// InboundHandler processes NEW_MESSAGE_RECEIVED payloads from workers.
type InboundHandler interface {
	HandleInbound(ctx context.Context, tenantID string, payload models.InboundMessagePayload) error
}

// handle is the manager's bookkeeping for one live worker.
type handle struct {
	info      models.WorkerInfo
	conn      *Conn
	cancel    context.CancelFunc
	readyOnce sync.Once
	ready     chan struct{}
	done      chan struct{}

	// external runtimes (attached platform clients) cannot be respawned by
	// the control plane, so the restart policy never applies to them.
	external      bool
	stopRequested bool
}

// exited reports whether the runtime goroutine has finished.
func (h *handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Manager owns every tenant worker: admission, lifecycle, restart policy
// and the command channel.
type Manager struct {
	cfg     config.WorkerConfig
	catalog *tier.Catalog
	pool    *tier.Pool
	store   store.Store
	factory RuntimeFactory
	events  *EventBuffer
	metrics *metrics.Metrics

	mu       sync.RWMutex
	workers  map[string]*handle
	epochs   map[string]uint64
	desired  map[string]bool // tenant should currently be connected
	restarts map[string][]time.Time
	handler  InboundHandler

	// sleep is swappable in tests to skip restart backoff.
	sleep func(d time.Duration)
}

// NewManager creates a worker manager.
func NewManager(cfg config.WorkerConfig, catalog *tier.Catalog, s store.Store, factory RuntimeFactory, events *EventBuffer, m *metrics.Metrics) *Manager {
	return &Manager{
		cfg:      cfg,
		catalog:  catalog,
		pool:     tier.NewPool(catalog),
		store:    s,
		factory:  factory,
		events:   events,
		metrics:  m,
		workers:  make(map[string]*handle),
		epochs:   make(map[string]uint64),
		desired:  make(map[string]bool),
		restarts: make(map[string][]time.Time),
		sleep:    time.Sleep,
	}
}

// SetHandler wires the inbound message handler. Must be called before any
// worker starts.
func (m *Manager) SetHandler(h InboundHandler) { m.handler = h }

func isLive(s models.WorkerStatus) bool {
	switch s {
	case models.WorkerStarting, models.WorkerConnecting, models.WorkerReady, models.WorkerDegraded:
		return true
	default:
		return false
	}
}

// StartWorker admits the tenant into its tier pool and starts its runtime.
// A live worker makes this a no-op. The call waits for the runtime's ready
// signal up to a bounded timeout; a slow start is returned as-is, not
// failed.
func (m *Manager) StartWorker(ctx context.Context, tenantID string, t models.Tier) (*models.WorkerInfo, error) {
	return m.start(ctx, tenantID, t, nil, false)
}

// Attach starts a worker whose runtime is an externally connected platform
// client. Attached workers follow the same admission and lifecycle rules
// but are never restarted by the manager; the client reconnects instead.
func (m *Manager) Attach(ctx context.Context, tenantID string, t models.Tier, rt Runtime) (*models.WorkerInfo, error) {
	return m.start(ctx, tenantID, t, rt, true)
}

func (m *Manager) start(ctx context.Context, tenantID string, t models.Tier, rt Runtime, external bool) (*models.WorkerInfo, error) {
	m.mu.Lock()
	if h, ok := m.workers[tenantID]; ok && isLive(h.info.Status) && !h.exited() {
		info := h.info
		m.mu.Unlock()
		return &info, nil
	}

	if err := m.pool.Acquire(tenantID, t); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	if rt == nil {
		var err error
		rt, err = m.factory(tenantID, t)
		if err != nil {
			m.pool.Release(tenantID)
			m.mu.Unlock()
			return nil, &ErrWorkerSpawn{TenantID: tenantID, Err: err}
		}
	}

	m.epochs[tenantID]++
	epoch := m.epochs[tenantID]
	m.desired[tenantID] = true

	runCtx, cancel := context.WithCancel(context.Background())
	restartCount := 0
	if prev, ok := m.workers[tenantID]; ok {
		restartCount = prev.info.RestartCount
	}
	h := &handle{
		info: models.WorkerInfo{
			TenantID:     tenantID,
			Status:       models.WorkerStarting,
			Tier:         t,
			Epoch:        epoch,
			StartedAt:    time.Now().UTC(),
			RestartCount: restartCount,
		},
		conn:     NewConn(connBuffer),
		cancel:   cancel,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		external: external,
	}
	m.workers[tenantID] = h
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.WorkersRunning.Inc()
	}
	m.events.Record(tenantID, "started", string(t))
	log.Info().Str("tenant", tenantID).Str("tier", string(t)).Uint64("epoch", epoch).Msg("Worker starting")

	go m.readLoop(runCtx, tenantID, epoch, h)
	go m.runRuntime(runCtx, tenantID, epoch, h, rt)

	select {
	case <-h.ready:
	case <-h.done:
	case <-time.After(readyTimeout):
		log.Warn().Str("tenant", tenantID).Msg("Worker not ready within timeout, continuing in background")
	case <-ctx.Done():
	}

	m.mu.RLock()
	info := h.info
	m.mu.RUnlock()
	return &info, nil
}

// runRuntime executes the runtime with panic isolation; any exit funnels
// into onExit exactly once.
func (m *Manager) runRuntime(ctx context.Context, tenantID string, epoch uint64, h *handle, rt Runtime) {
	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("runtime panic: %v", r)
			}
		}()
		runErr = rt.Run(ctx, h.conn.Worker())
	}()
	close(h.done)
	m.onExit(tenantID, epoch, runErr)
}

// readLoop consumes worker → control envelopes for one worker generation.
// Messages are dispatched synchronously so a single worker's events stay in
// arrival order.
func (m *Manager) readLoop(ctx context.Context, tenantID string, epoch uint64, h *handle) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.conn.Done():
			return
		case env := <-h.conn.Inbound():
			m.dispatch(ctx, tenantID, epoch, h, env)
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, tenantID string, epoch uint64, h *handle, env models.Envelope) {
	m.mu.Lock()
	if h.info.Epoch != epoch {
		m.mu.Unlock()
		return // stale generation
	}
	h.info.LastHeartbeat = time.Now().UTC()
	m.mu.Unlock()

	switch env.Type {
	case models.MsgStatusUpdate:
		var p models.StatusUpdatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warn().Str("tenant", tenantID).Err(err).Msg("Malformed status update")
			return
		}
		m.applyStatus(tenantID, h, models.WorkerStatus(p.Status), p.Detail)

	case models.MsgNewMessageReceived:
		var p models.InboundMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warn().Str("tenant", tenantID).Err(err).Msg("Malformed inbound message payload")
			return
		}
		if m.handler == nil {
			log.Warn().Str("tenant", tenantID).Msg("Inbound message dropped, no handler wired")
			return
		}
		if err := m.handler.HandleInbound(ctx, tenantID, p); err != nil {
			log.Error().Str("tenant", tenantID).Str("conversation", p.ConversationID).Err(err).
				Msg("Inbound message processing failed")
		}

	case models.MsgErrorInfo:
		m.mu.Lock()
		h.info.LastError = string(env.Payload)
		m.mu.Unlock()
		m.events.Record(tenantID, "error", string(env.Payload))

	case models.MsgWorkerShutdown:
		log.Info().Str("tenant", tenantID).Msg("Worker announced shutdown")

	default:
		log.Debug().Str("tenant", tenantID).Str("type", string(env.Type)).Msg("Ignoring envelope")
	}
}

func (m *Manager) applyStatus(tenantID string, h *handle, status models.WorkerStatus, detail string) {
	m.mu.Lock()
	switch status {
	case models.WorkerConnecting, models.WorkerReady, models.WorkerDegraded:
		h.info.Status = status
	default:
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if status == models.WorkerReady {
		h.readyOnce.Do(func() {
			close(h.ready)
			m.events.Record(tenantID, "ready", detail)
			log.Info().Str("tenant", tenantID).Msg("Worker ready")
		})
	}
}

// SendCommand relays a command to the tenant's worker. Missing or dead
// workers make this a logged no-op; the contract is at-most-once delivery.
func (m *Manager) SendCommand(tenantID string, env models.Envelope) error {
	m.mu.RLock()
	h, ok := m.workers[tenantID]
	live := ok && isLive(h.info.Status)
	m.mu.RUnlock()

	if !live {
		log.Debug().Str("tenant", tenantID).Str("type", string(env.Type)).Msg("No live worker, dropping command")
		return nil
	}
	if err := h.conn.Send(env); err != nil {
		log.Debug().Str("tenant", tenantID).Str("type", string(env.Type)).Err(err).Msg("Worker channel unavailable, dropping command")
	}
	return nil
}

// StopWorker gracefully shuts the tenant's worker down: a SHUTDOWN command,
// then a bounded grace period, then force termination. The worker always
// ends terminated with its tier capacity released, even on timeout.
func (m *Manager) StopWorker(ctx context.Context, tenantID, reason string) error {
	m.mu.Lock()
	h, ok := m.workers[tenantID]
	if !ok || !isLive(h.info.Status) {
		m.mu.Unlock()
		return nil
	}
	h.stopRequested = true
	h.info.Status = models.WorkerTerminating
	m.desired[tenantID] = false
	m.mu.Unlock()

	log.Info().Str("tenant", tenantID).Str("reason", reason).Msg("Stopping worker")
	_ = h.conn.Send(models.NewEnvelope(models.MsgShutdown, nil))

	select {
	case <-h.done:
	case <-time.After(m.cfg.StopGracePeriod):
		log.Warn().Str("tenant", tenantID).Msg("Worker did not stop in grace period, forcing termination")
		h.cancel()
		h.conn.Close()
		select {
		case <-h.done:
		case <-time.After(time.Second):
		}
	case <-ctx.Done():
		h.cancel()
		h.conn.Close()
	}

	// onExit normally finalizes; make the terminal state unconditional.
	m.mu.Lock()
	h.info.Status = models.WorkerTerminated
	m.mu.Unlock()
	m.pool.Release(tenantID)
	m.events.Record(tenantID, "stopped", reason)
	return nil
}

// onExit handles a runtime goroutine finishing. Expected exits finalize;
// unexpected ones enter the restart policy.
func (m *Manager) onExit(tenantID string, epoch uint64, runErr error) {
	m.mu.Lock()
	h, ok := m.workers[tenantID]
	if !ok || h.info.Epoch != epoch {
		m.mu.Unlock()
		return
	}
	stopRequested := h.stopRequested
	wanted := m.desired[tenantID]
	external := h.external
	t := h.info.Tier
	m.mu.Unlock()

	h.conn.Close()
	h.cancel()
	if m.metrics != nil {
		m.metrics.WorkersRunning.Dec()
	}

	// A clean exit or an operator-requested stop is an expected end state.
	if stopRequested || runErr == nil {
		m.finalize(tenantID, h)
		return
	}

	detail := runErr.Error()
	m.mu.Lock()
	h.info.Status = models.WorkerDegraded
	h.info.LastError = detail
	m.mu.Unlock()
	m.events.Record(tenantID, "degraded", detail)
	log.Warn().Str("tenant", tenantID).Str("error", detail).Msg("Worker exited unexpectedly")

	if !wanted || external {
		m.finalize(tenantID, h)
		return
	}
	m.scheduleRestart(tenantID, t)
}

func (m *Manager) finalize(tenantID string, h *handle) {
	m.mu.Lock()
	h.info.Status = models.WorkerTerminated
	m.mu.Unlock()
	m.pool.Release(tenantID)
}

// scheduleRestart applies exponential backoff capped by MaxRestarts per
// RestartWindow. Exhausting the budget is terminal and surfaced as an
// unrecoverable event.
func (m *Manager) scheduleRestart(tenantID string, t models.Tier) {
	m.mu.Lock()
	now := time.Now()
	recent := m.restarts[tenantID][:0]
	for _, ts := range m.restarts[tenantID] {
		if now.Sub(ts) < m.cfg.RestartWindow {
			recent = append(recent, ts)
		}
	}
	attempt := len(recent)
	if attempt >= m.cfg.MaxRestarts {
		m.restarts[tenantID] = recent
		h := m.workers[tenantID]
		m.mu.Unlock()
		m.events.Record(tenantID, "unrecoverable", fmt.Sprintf("exceeded %d restarts in %s", m.cfg.MaxRestarts, m.cfg.RestartWindow))
		log.Error().Str("tenant", tenantID).Int("max_restarts", m.cfg.MaxRestarts).Msg("Worker unrecoverable")
		m.finalize(tenantID, h)
		return
	}
	m.restarts[tenantID] = append(recent, now)
	m.mu.Unlock()

	backoff := time.Second << uint(attempt)
	go func() {
		m.sleep(backoff)

		m.mu.RLock()
		wanted := m.desired[tenantID]
		m.mu.RUnlock()
		if !wanted {
			return
		}

		log.Info().Str("tenant", tenantID).Dur("backoff", backoff).Msg("Restarting worker")
		info, err := m.StartWorker(context.Background(), tenantID, t)
		if err != nil {
			log.Error().Str("tenant", tenantID).Err(err).Msg("Worker restart failed")
			return
		}
		m.mu.Lock()
		if h, ok := m.workers[tenantID]; ok && h.info.Epoch == info.Epoch {
			h.info.RestartCount++
		}
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.WorkerRestarts.Inc()
		}
		m.events.Record(tenantID, "restarted", "")
		m.logActivity(tenantID, models.ActivityWorkerRestarted, fmt.Sprintf("backoff %s", backoff))
	}()
}

func (m *Manager) logActivity(tenantID string, kind models.ActivityKind, detail string) {
	entry := &models.ActivityEntry{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Kind:      kind,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.CreateActivity(ctx, entry); err != nil {
		log.Warn().Str("tenant", tenantID).Err(err).Msg("Failed to record worker activity")
	}
}

// Worker returns the manager's view of a tenant's worker.
func (m *Manager) Worker(tenantID string) (*models.WorkerInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.workers[tenantID]
	if !ok {
		return nil, false
	}
	info := h.info
	return &info, true
}

// Workers returns every tracked worker.
func (m *Manager) Workers() []models.WorkerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.WorkerInfo, 0, len(m.workers))
	for _, h := range m.workers {
		out = append(out, h.info)
	}
	return out
}

// Events exposes the lifecycle event buffer.
func (m *Manager) Events() *EventBuffer { return m.events }

// StopAll gracefully stops every live worker. Called on server shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	tenants := make([]string, 0, len(m.workers))
	for id, h := range m.workers {
		if isLive(h.info.Status) {
			tenants = append(tenants, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range tenants {
		if err := m.StopWorker(ctx, id, "shutdown"); err != nil {
			log.Warn().Str("tenant", id).Err(err).Msg("Failed to stop worker during shutdown")
		}
	}
	log.Info().Int("count", len(tenants)).Msg("All workers stopped")
}

// MonitorHeartbeats marks workers degraded when their heartbeat goes stale.
// Blocks until ctx is canceled.
func (m *Manager) MonitorHeartbeats(ctx context.Context) {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	stale := 3 * m.cfg.HeartbeatInterval
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			m.mu.Lock()
			for id, h := range m.workers {
				if h.info.Status != models.WorkerReady {
					continue
				}
				if !h.info.LastHeartbeat.IsZero() && now.Sub(h.info.LastHeartbeat) > stale {
					h.info.Status = models.WorkerDegraded
					m.events.Record(id, "degraded", "heartbeat stale")
					log.Warn().Str("tenant", id).Msg("Worker heartbeat stale, marking degraded")
				}
			}
			m.mu.Unlock()
		}
	}
}
