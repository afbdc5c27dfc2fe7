// Package handlers implements the HTTP handlers for the setter service.
// All state goes through the Store interface; worker lifecycle goes through
// the process manager.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/chat"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/flow"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/network"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/pipeline"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/store"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/tier"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/worker"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store    store.Store
	Manager  *worker.Manager
	Pipeline *pipeline.Pipeline
	Engine   *network.Engine
	State    *chat.State
	Gateway  *worker.Gateway
}

// New creates a Handlers instance with all dependencies.
func New(s store.Store, m *worker.Manager, p *pipeline.Pipeline, e *network.Engine, st *chat.State, gw *worker.Gateway) *Handlers {
	return &Handlers{
		Store:    s,
		Manager:  m,
		Pipeline: p,
		Engine:   e,
		State:    st,
		Gateway:  gw,
	}
}

func tenantParam(r *http.Request) string {
	return chi.URLParam(r, "tenantID")
}

// ── Worker lifecycle ─────────────────────────────────────────

func (h *Handlers) StartWorker(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)

	var req struct {
		Tier models.Tier `json:"tier"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Tier == "" {
		req.Tier = models.TierStandard
	}

	info, err := h.Manager.StartWorker(r.Context(), tenantID, req.Tier)
	if err != nil {
		var capErr *tier.ErrCapacityExceeded
		if errors.As(err, &capErr) {
			respondError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("tenant", tenantID).Str("tier", string(req.Tier)).Msg("Worker start requested")
	respondJSON(w, http.StatusAccepted, info)
}

func (h *Handlers) GetWorker(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)

	info, ok := h.Manager.Worker(tenantID)
	if !ok {
		respondError(w, http.StatusNotFound, "no worker for tenant "+tenantID)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (h *Handlers) StopWorker(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)

	if err := h.Manager.StopWorker(r.Context(), tenantID, "api request"); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *Handlers) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers := h.Manager.Workers()
	if workers == nil {
		workers = []models.WorkerInfo{}
	}
	respondJSON(w, http.StatusOK, workers)
}

func (h *Handlers) WorkerEvents(w http.ResponseWriter, r *http.Request) {
	n := intQuery(r, "limit", 100)
	respondJSON(w, http.StatusOK, h.Manager.Events().Recent(n))
}

func (h *Handlers) NukeTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)

	report := h.Manager.NukeTenant(r.Context(), tenantID)
	status := http.StatusOK
	if !report.Complete {
		status = http.StatusMultiStatus
	}
	respondJSON(w, status, report)
}

// ── Message injection ────────────────────────────────────────

// InjectMessage feeds an inbound message into the routing pipeline, exactly
// as if the tenant's platform worker had reported it.
func (h *Handlers) InjectMessage(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)

	var payload models.InboundMessagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.ConversationID == "" || payload.Body == "" {
		respondError(w, http.StatusBadRequest, "conversation_id and body are required")
		return
	}

	if err := h.Pipeline.HandleInbound(r.Context(), tenantID, payload); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// ── Agents ───────────────────────────────────────────────────

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)

	agents, err := h.Store.ListAgents(r.Context(), tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	respondJSON(w, http.StatusOK, agents)
}

func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)

	var req models.Agent
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	req.ID = uuid.New().String()
	req.TenantID = tenantID
	req.CreatedAt = time.Now().UTC()
	req.UpdatedAt = req.CreatedAt

	if err := h.Store.CreateAgent(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("agent", req.Name).Str("id", req.ID).Str("tenant", tenantID).Msg("Agent created")
	respondJSON(w, http.StatusCreated, req)
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)
	agentID := chi.URLParam(r, "agentID")

	agent, err := h.Store.GetAgent(r.Context(), tenantID, agentID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)
	agentID := chi.URLParam(r, "agentID")

	existing, err := h.Store.GetAgent(r.Context(), tenantID, agentID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	var req models.Agent
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.ID = existing.ID
	req.TenantID = tenantID
	req.CreatedAt = existing.CreatedAt
	req.UpdatedAt = time.Now().UTC()

	if err := h.Store.UpdateAgent(r.Context(), &req); err != nil {
		respondStoreError(w, err)
		return
	}

	// Running workers pick up the new persona on their next turn; tell them
	// anyway so in-flight sessions reload promptly.
	h.notifyWorker(tenantID, models.NewEnvelope(models.MsgReloadAgentConfig, map[string]string{"agent_id": agentID}))

	respondJSON(w, http.StatusOK, req)
}

func (h *Handlers) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)
	agentID := chi.URLParam(r, "agentID")

	if err := h.Store.DeleteAgent(r.Context(), tenantID, agentID); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ── Agent network ────────────────────────────────────────────

func (h *Handlers) GetNetwork(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)

	net, err := h.Engine.Network(r.Context(), tenantID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, net)
}

func (h *Handlers) PutNetwork(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)

	var req models.AgentNetwork
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := network.ValidateNetwork(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.TenantID = tenantID
	req.UpdatedAt = time.Now().UTC()

	if err := h.Engine.PutNetwork(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("tenant", tenantID).Int("nodes", len(req.Nodes)).Msg("Agent network updated")
	respondJSON(w, http.StatusOK, req)
}

func (h *Handlers) DeleteNetwork(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)

	if err := h.Store.DeleteNetwork(r.Context(), tenantID); err != nil {
		respondStoreError(w, err)
		return
	}
	h.Engine.Invalidate(r.Context(), tenantID)
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ── Automation: flows, rules, starters ───────────────────────

func (h *Handlers) ListFlows(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)

	flows, err := h.Store.ListFlows(r.Context(), tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if flows == nil {
		flows = []models.ActionFlow{}
	}
	respondJSON(w, http.StatusOK, flows)
}

func (h *Handlers) PutFlow(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)

	var req models.ActionFlow
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.TenantID = tenantID
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	if err := flow.ValidateFlow(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.Store.PutFlow(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)

	rules, err := h.Store.ListRules(r.Context(), tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rules == nil {
		rules = []models.Rule{}
	}
	respondJSON(w, http.StatusOK, rules)
}

func (h *Handlers) PutRule(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)

	var req models.Rule
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Trigger == "" || req.Response == "" {
		respondError(w, http.StatusBadRequest, "trigger and response are required")
		return
	}
	req.TenantID = tenantID
	req.Trigger = models.NormalizeTrigger(req.Trigger)
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	if err := h.Store.PutRule(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (h *Handlers) ListStarters(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)

	starters, err := h.Store.ListStarters(r.Context(), tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if starters == nil {
		starters = []models.Starter{}
	}
	respondJSON(w, http.StatusOK, starters)
}

func (h *Handlers) PutStarter(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)

	var req models.Starter
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Trigger == "" || req.PromptTemplate == "" {
		respondError(w, http.StatusBadRequest, "trigger and prompt_template are required")
		return
	}
	req.TenantID = tenantID
	req.Trigger = models.NormalizeTrigger(req.Trigger)
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	if err := h.Store.PutStarter(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (h *Handlers) DeleteAutomation(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)

	if err := h.Store.DeleteAutomation(r.Context(), tenantID); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ── Conversations ────────────────────────────────────────────

func (h *Handlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)

	convs, err := h.Store.ListConversations(r.Context(), tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	respondJSON(w, http.StatusOK, convs)
}

func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

func (h *Handlers) ConversationMessages(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)
	convID := chi.URLParam(r, "conversationID")
	limit := intQuery(r, "limit", 50)

	msgs, err := h.Store.ListRecentMessages(r.Context(), tenantID, convID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	respondJSON(w, http.StatusOK, msgs)
}

// ActivateConversation manually activates a conversation, optionally binding
// an agent. With no agent in the body the network's primary is bound.
func (h *Handlers) ActivateConversation(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	var req struct {
		AgentID string `json:"agent_id"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	agentID := req.AgentID
	if agentID == "" {
		net, err := h.Engine.Network(r.Context(), tenantID)
		if err != nil && !store.IsNotFound(err) {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if net != nil {
			agentID = net.PrimaryAgentID
		}
	}
	if agentID != "" {
		if _, err := h.Store.GetAgent(r.Context(), tenantID, agentID); err != nil {
			respondStoreError(w, err)
			return
		}
	}

	if err := h.State.Activate(r.Context(), conv, models.ActivationManual); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if agentID != "" && conv.CurrentAgentID == "" {
		conv.CurrentAgentID = agentID
		if err := h.Store.PutConversation(r.Context(), conv); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, conv)
}

func (h *Handlers) DeactivateConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}
	if err := h.State.Deactivate(r.Context(), conv, "api request"); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

func (h *Handlers) PauseBot(w http.ResponseWriter, r *http.Request) {
	h.setBotPaused(w, r, true)
}

func (h *Handlers) ResumeBot(w http.ResponseWriter, r *http.Request) {
	h.setBotPaused(w, r, false)
}

func (h *Handlers) setBotPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	tenantID := tenantParam(r)
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	if err := h.State.SetBotPaused(r.Context(), conv, paused); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	kind := models.MsgResumeBot
	if paused {
		kind = models.MsgPauseBot
	}
	h.notifyWorker(tenantID, models.NewEnvelope(kind, map[string]string{"conversation_id": conv.ID}))

	respondJSON(w, http.StatusOK, conv)
}

func (h *Handlers) conversation(w http.ResponseWriter, r *http.Request) (*models.Conversation, bool) {
	tenantID := tenantParam(r)
	convID := chi.URLParam(r, "conversationID")

	conv, err := h.Store.GetConversation(r.Context(), tenantID, convID)
	if err != nil {
		respondStoreError(w, err)
		return nil, false
	}
	return conv, true
}

// ── Activity log ─────────────────────────────────────────────

func (h *Handlers) ListActivity(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)
	limit := intQuery(r, "limit", 100)

	since := time.Time{}
	if s := r.URL.Query().Get("since"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = parsed
	}

	entries, err := h.Store.ListActivity(r.Context(), tenantID, since, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []models.ActivityEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// ── WebSocket bridge ─────────────────────────────────────────

// ConnectWorker upgrades the request and attaches the platform client as the
// tenant's worker runtime.
func (h *Handlers) ConnectWorker(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantParam(r)

	t := models.Tier(r.URL.Query().Get("tier"))
	if t == "" {
		t = models.TierStandard
	}
	h.Gateway.ServeWS(w, r, tenantID, t)
}

// ── Helpers ──────────────────────────────────────────────────

func (h *Handlers) notifyWorker(tenantID string, env models.Envelope) {
	if err := h.Manager.SendCommand(tenantID, env); err != nil {
		log.Warn().Err(err).Str("tenant", tenantID).Str("type", string(env.Type)).Msg("Worker notify failed")
	}
}

func intQuery(r *http.Request, name string, fallback int) int {
	if s := r.URL.Query().Get(name); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondStoreError(w http.ResponseWriter, err error) {
	if store.IsNotFound(err) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}
