package worker

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/store"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

// NukeTenant is the ordered, idempotent teardown of everything a tenant
// owns: worker first, then stored state, then tier capacity. Every step
// reports independently; one failed step never aborts the remaining steps,
// and the worker is never restarted by this path because the tenant's
// desired state is cleared before termination.
func (m *Manager) NukeTenant(ctx context.Context, tenantID string) *models.NukeReport {
	report := &models.NukeReport{TenantID: tenantID}

	m.mu.Lock()
	m.desired[tenantID] = false
	delete(m.restarts, tenantID)
	m.mu.Unlock()

	report.AddStep("terminate_worker", m.StopWorker(ctx, tenantID, "nuke"))
	report.AddStep("delete_conversations", m.store.DeleteConversations(ctx, tenantID))
	report.AddStep("delete_messages", m.store.DeleteMessages(ctx, tenantID))
	report.AddStep("delete_agents", m.store.DeleteAgents(ctx, tenantID))
	report.AddStep("delete_network", ignoreNotFound(m.store.DeleteNetwork(ctx, tenantID)))
	report.AddStep("delete_automation", m.store.DeleteAutomation(ctx, tenantID))

	m.pool.Release(tenantID)
	m.mu.Lock()
	delete(m.workers, tenantID)
	m.mu.Unlock()
	report.AddStep("release_capacity", nil)

	report.Finalize()
	m.events.Record(tenantID, "nuked", "")
	log.Info().
		Str("tenant", tenantID).
		Bool("complete", report.Complete).
		Int("steps", len(report.Steps)).
		Msg("Tenant nuked")
	return report
}

// ignoreNotFound treats a missing record as already deleted.
func ignoreNotFound(err error) error {
	if store.IsNotFound(err) {
		return nil
	}
	return err
}
