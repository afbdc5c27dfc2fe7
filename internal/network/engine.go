// Package network implements agent selection for inbound messages.
//
// The trigger engine scores every trigger in a tenant's agent network
// against the inbound text and picks the best candidate. Initial selection
// runs for conversations with no bound agent; switch evaluation runs
// mid-conversation and only considers triggers belonging to other nodes.
package network

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/cache"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/store"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

// FallbackScore is the minimal confidence assigned when no trigger matches
// and the primary agent is selected by default.
const FallbackScore = 0.1

// TriggerEvaluationError reports a trigger that could not be evaluated,
// typically a malformed regex. It is logged and the trigger skipped; a bad
// trigger never fails a whole evaluation pass.
type TriggerEvaluationError struct {
	Keyword string
	Err     error
}

func (e *TriggerEvaluationError) Error() string {
	return fmt.Sprintf("trigger %q: evaluation failed: %v", e.Keyword, e.Err)
}

func (e *TriggerEvaluationError) Unwrap() error { return e.Err }

// Engine evaluates triggers and resolves a tenant's network configuration.
type Engine struct {
	store store.Store
	cache cache.Cache
	ttl   time.Duration

	// now is swappable in tests for time-of-day conditions.
	now func() time.Time
}

// NewEngine creates a trigger engine. The cache holds network configs with
// the given TTL; pass a nil cache to always read through to the store.
func NewEngine(s store.Store, c cache.Cache, ttl time.Duration) *Engine {
	return &Engine{store: s, cache: c, ttl: ttl, now: time.Now}
}

func networkCacheKey(tenantID string) string {
	return "network:" + tenantID
}

// Network returns the tenant's network, served from cache when fresh. The
// cache is a hint; a cache miss or decode failure falls through to the store.
func (e *Engine) Network(ctx context.Context, tenantID string) (*models.AgentNetwork, error) {
	if e.cache != nil {
		if raw, err := e.cache.Get(ctx, networkCacheKey(tenantID)); err == nil {
			var net models.AgentNetwork
			if err := json.Unmarshal([]byte(raw), &net); err == nil {
				return &net, nil
			}
		}
	}

	net, err := e.store.GetNetwork(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if raw, err := json.Marshal(net); err == nil {
			if err := e.cache.Set(ctx, networkCacheKey(tenantID), string(raw), e.ttl); err != nil {
				log.Debug().Str("tenant", tenantID).Err(err).Msg("Network cache set failed")
			}
		}
	}
	return net, nil
}

// PutNetwork stores a network update and invalidates the cached copy so the
// next message routes against the new configuration.
func (e *Engine) PutNetwork(ctx context.Context, net *models.AgentNetwork) error {
	if err := e.store.PutNetwork(ctx, net); err != nil {
		return err
	}
	e.Invalidate(ctx, net.TenantID)
	return nil
}

// Invalidate drops the cached network for a tenant.
func (e *Engine) Invalidate(ctx context.Context, tenantID string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Delete(ctx, networkCacheKey(tenantID)); err != nil {
		log.Debug().Str("tenant", tenantID).Err(err).Msg("Network cache invalidation failed")
	}
}

// EvaluateInitialTriggers selects the responding agent for a conversation
// that has no bound agent yet. Every node's triggers are evaluated; when
// nothing matches, the primary agent is returned as a flagged fallback with
// a minimal score.
func (e *Engine) EvaluateInitialTriggers(net *models.AgentNetwork, text string) *models.Candidate {
	best := e.bestCandidate(net, text, "", false)
	if best != nil {
		return best
	}
	return &models.Candidate{
		AgentID:  net.PrimaryAgentID,
		Score:    FallbackScore,
		Fallback: true,
	}
}

// EvaluateSwitchTriggers evaluates mid-conversation switch candidates. Only
// triggers of nodes other than the current agent's are considered; a
// conversation cannot switch to itself. Returns nil when no eligible
// trigger matches.
func (e *Engine) EvaluateSwitchTriggers(net *models.AgentNetwork, currentAgentID, text string) *models.Candidate {
	return e.bestCandidate(net, text, currentAgentID, true)
}

// bestCandidate scans nodes in declaration order and keeps the highest
// ranked match. Ties keep the earlier candidate, so declaration order is
// the tie-break.
func (e *Engine) bestCandidate(net *models.AgentNetwork, text string, excludeAgentID string, applyConditions bool) *models.Candidate {
	var best *models.Candidate
	var bestRank float64

	for _, node := range net.Nodes {
		if excludeAgentID != "" && node.AgentID == excludeAgentID {
			continue
		}
		for _, trigger := range node.Triggers {
			if applyConditions && !e.conditionsHold(trigger.Conditions, excludeAgentID) {
				continue
			}

			score, err := matchScore(trigger, text)
			if err != nil {
				log.Warn().
					Str("tenant", net.TenantID).
					Str("agent", node.AgentID).
					Str("keyword", trigger.Keyword).
					Err(err).
					Msg("Skipping unevaluable trigger")
				continue
			}
			if score == 0 {
				continue
			}

			target := trigger.TargetAgent
			if target == "" {
				target = node.AgentID
			}
			rank := score * float64(trigger.Priority) / 10
			if best == nil || rank > bestRank {
				best = &models.Candidate{AgentID: target, Trigger: trigger, Score: score}
				bestRank = rank
			}
		}
	}
	return best
}

// conditionsHold checks a switch trigger's optional gates. Both the
// previous-agent constraint and the time-of-day window must hold.
func (e *Engine) conditionsHold(cond *models.TriggerConditions, currentAgentID string) bool {
	if cond == nil {
		return true
	}
	if cond.PreviousAgent != "" && cond.PreviousAgent != currentAgentID {
		return false
	}
	if cond.TimeOfDay != "" && timeOfDay(e.now()) != cond.TimeOfDay {
		return false
	}
	return true
}

func timeOfDay(t time.Time) models.TimeOfDay {
	switch h := t.Hour(); {
	case h >= 6 && h < 12:
		return models.TimeMorning
	case h >= 12 && h < 18:
		return models.TimeAfternoon
	default:
		return models.TimeEvening
	}
}

// matchScore scores one trigger against the inbound text. Exact → 1.0,
// contains → 0.8, regex → matched length over message length capped at 1.0.
// Non-matches score 0.
func matchScore(trigger models.Trigger, text string) (float64, error) {
	msg := strings.ToLower(strings.TrimSpace(text))
	keyword := strings.ToLower(strings.TrimSpace(trigger.Keyword))
	if keyword == "" || msg == "" {
		return 0, nil
	}

	switch trigger.MatchType {
	case models.MatchExact:
		if msg == keyword {
			return 1.0, nil
		}
		return 0, nil
	case models.MatchContains:
		if strings.Contains(msg, keyword) {
			return 0.8, nil
		}
		return 0, nil
	case models.MatchRegex:
		re, err := regexp.Compile(trigger.Keyword)
		if err != nil {
			return 0, &TriggerEvaluationError{Keyword: trigger.Keyword, Err: err}
		}
		matched := re.FindString(text)
		if matched == "" {
			return 0, nil
		}
		score := float64(len(matched)) / float64(len(text))
		if score > 1.0 {
			score = 1.0
		}
		return score, nil
	default:
		return 0, &TriggerEvaluationError{
			Keyword: trigger.Keyword,
			Err:     fmt.Errorf("unknown match type %q", trigger.MatchType),
		}
	}
}
