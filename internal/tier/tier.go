// Package tier holds the static subscription-tier catalog and the
// connection-slot pool that enforces per-tier capacity admission.
//
// The catalog is consumed, never mutated, by the worker manager. Admission
// is a capacity check, not a queue: a rejected start may simply be retried
// later by the caller.
package tier

import (
	"fmt"
	"sync"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/config"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

// ErrCapacityExceeded is returned by Acquire when a tier's pool is full.
type ErrCapacityExceeded struct {
	Tier     models.Tier
	Capacity int
}

func (e *ErrCapacityExceeded) Error() string {
	return fmt.Sprintf("tier %s capacity exceeded (%d tenants)", e.Tier, e.Capacity)
}

// Catalog maps tiers to resource budgets.
type Catalog struct {
	budgets map[models.Tier]models.TierBudget
}

// DefaultCatalog returns the built-in tier table.
func DefaultCatalog() *Catalog {
	return &Catalog{budgets: map[models.Tier]models.TierBudget{
		models.TierStandard:     {MemoryMB: 256, CPUPercent: 25, SharingRatio: 4, MaxSlots: 25},
		models.TierProfessional: {MemoryMB: 512, CPUPercent: 50, SharingRatio: 2, MaxSlots: 25},
		models.TierEnterprise:   {MemoryMB: 1024, CPUPercent: 100, SharingRatio: 1, MaxSlots: 50},
	}}
}

// NewCatalog returns the tier table with slot counts overridden from
// configuration. Non-positive overrides keep the built-in value.
func NewCatalog(cfg config.TierConfig) *Catalog {
	c := DefaultCatalog()
	applySlots(c, models.TierStandard, cfg.StandardSlots)
	applySlots(c, models.TierProfessional, cfg.ProfessionalSlots)
	applySlots(c, models.TierEnterprise, cfg.EnterpriseSlots)
	return c
}

func applySlots(c *Catalog, t models.Tier, slots int) {
	if slots <= 0 {
		return
	}
	b := c.budgets[t]
	b.MaxSlots = slots
	c.budgets[t] = b
}

// Budget returns the budget for a tier, falling back to standard for
// unknown tiers.
func (c *Catalog) Budget(t models.Tier) models.TierBudget {
	if b, ok := c.budgets[t]; ok {
		return b
	}
	return c.budgets[models.TierStandard]
}

// Capacity is the number of tenants a tier can admit: slots × sharing ratio.
func (c *Catalog) Capacity(t models.Tier) int {
	b := c.Budget(t)
	return b.MaxSlots * b.SharingRatio
}

// Pool tracks slot occupancy per tier.
type Pool struct {
	catalog *Catalog

	mu        sync.Mutex
	occupants map[models.Tier]map[string]bool // tier → tenant set
	byTenant  map[string]models.Tier
}

// NewPool creates an empty pool over the given catalog.
func NewPool(catalog *Catalog) *Pool {
	return &Pool{
		catalog:   catalog,
		occupants: make(map[models.Tier]map[string]bool),
		byTenant:  make(map[string]models.Tier),
	}
}

// Acquire admits a tenant into a tier's pool. Idempotent for a tenant that
// already holds a slot in the same tier.
func (p *Pool) Acquire(tenantID string, t models.Tier) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	held, switching := p.byTenant[tenantID]
	if switching && held == t {
		return nil
	}

	capacity := p.catalog.Capacity(t)
	if p.occupants[t] == nil {
		p.occupants[t] = make(map[string]bool)
	}
	if len(p.occupants[t]) >= capacity {
		return &ErrCapacityExceeded{Tier: t, Capacity: capacity}
	}

	// Tier change: the old slot stays held until the new one is admitted.
	if switching {
		delete(p.occupants[held], tenantID)
	}
	p.occupants[t][tenantID] = true
	p.byTenant[tenantID] = t
	return nil
}

// Release frees a tenant's slot. No-op for unknown tenants.
func (p *Pool) Release(tenantID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.byTenant[tenantID]
	if !ok {
		return
	}
	delete(p.occupants[t], tenantID)
	delete(p.byTenant, tenantID)
}

// Occupancy returns the number of admitted tenants for a tier.
func (p *Pool) Occupancy(t models.Tier) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.occupants[t])
}
