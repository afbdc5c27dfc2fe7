// Package flow implements matching and execution of action flows.
//
// A flow is an ordered list of steps. Execution is sequential; a
// send_message step's delay is honored before sending. Delays respect
// context cancellation so tenant teardown aborts a flow mid-run.
package flow

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

// FallbackNotice is sent when a flow with zero steps fires. A matched but
// empty flow must still produce visible output so misconfiguration is
// distinguishable from "nothing matched".
const FallbackNotice = "Automated flow triggered but has no steps configured."

// Matches reports whether a flow's trigger matches the inbound text.
// Matching is case-insensitive on trimmed text.
func Matches(f *models.ActionFlow, text string) bool {
	if !f.Enabled {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(text))
	trigger := strings.ToLower(strings.TrimSpace(f.TriggerText))
	if trigger == "" {
		return false
	}
	switch f.TriggerType {
	case models.FlowTriggerExact:
		return msg == trigger
	case models.FlowTriggerStartsWith:
		return strings.HasPrefix(msg, trigger)
	case models.FlowTriggerContains:
		return strings.Contains(msg, trigger)
	default:
		return false
	}
}

// Executor runs matched flows.
type Executor struct {
	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates a flow executor.
func NewExecutor() *Executor {
	return &Executor{sleep: sleepCtx}
}

// Run executes the flow's steps in order against the inbound text and
// returns the messages to send. A condition step that fails skips all
// remaining steps. An empty flow returns the fallback notice.
func (e *Executor) Run(ctx context.Context, f *models.ActionFlow, inboundText string) ([]string, error) {
	if len(f.Steps) == 0 {
		log.Warn().
			Str("tenant", f.TenantID).
			Str("flow", f.ID).
			Msg("Matched flow has no steps, sending fallback notice")
		return []string{FallbackNotice}, nil
	}

	var replies []string
	priorOK := true

	for i, step := range f.Steps {
		select {
		case <-ctx.Done():
			return replies, ctx.Err()
		default:
		}

		switch step.Kind {
		case models.StepSendMessage:
			if step.DelaySeconds > 0 {
				if err := e.sleep(ctx, time.Duration(step.DelaySeconds)*time.Second); err != nil {
					return replies, err
				}
			}
			replies = append(replies, step.Text)
			priorOK = true

		case models.StepDelay:
			if err := e.sleep(ctx, time.Duration(step.DelaySeconds)*time.Second); err != nil {
				return replies, err
			}
			priorOK = true

		case models.StepCondition:
			ok := true
			if step.ConditionContains != "" {
				ok = strings.Contains(
					strings.ToLower(inboundText),
					strings.ToLower(step.ConditionContains),
				)
			}
			if step.RequirePriorOK {
				ok = ok && priorOK
			}
			if !ok {
				log.Debug().
					Str("tenant", f.TenantID).
					Str("flow", f.ID).
					Int("step", i).
					Msg("Flow condition failed, skipping remaining steps")
				return replies, nil
			}
			priorOK = true

		default:
			// Unknown kinds are rejected at configuration write; skip
			// defensively if one slips through old data.
			log.Warn().
				Str("tenant", f.TenantID).
				Str("flow", f.ID).
				Str("kind", string(step.Kind)).
				Msg("Skipping flow step of unknown kind")
			priorOK = false
		}
	}

	return replies, nil
}

// ValidateFlow checks a flow's steps at configuration-write time.
func ValidateFlow(f *models.ActionFlow) error {
	if strings.TrimSpace(f.TriggerText) == "" {
		return &ValidationError{Field: "trigger_text", Reason: "must not be empty"}
	}
	switch f.TriggerType {
	case models.FlowTriggerExact, models.FlowTriggerContains, models.FlowTriggerStartsWith:
	default:
		return &ValidationError{Field: "trigger_type", Reason: "unknown trigger type " + string(f.TriggerType)}
	}
	for i, step := range f.Steps {
		switch step.Kind {
		case models.StepSendMessage:
			if step.Text == "" {
				return &ValidationError{Field: "steps", Reason: "send_message step without text", Step: i}
			}
		case models.StepDelay:
			if step.DelaySeconds <= 0 {
				return &ValidationError{Field: "steps", Reason: "delay step without positive delay", Step: i}
			}
		case models.StepCondition:
			if step.ConditionContains == "" && !step.RequirePriorOK {
				return &ValidationError{Field: "steps", Reason: "condition step without any check", Step: i}
			}
		default:
			return &ValidationError{Field: "steps", Reason: "unknown step kind " + string(step.Kind), Step: i}
		}
	}
	return nil
}

// ValidationError reports a malformed flow definition.
type ValidationError struct {
	Field  string
	Reason string
	Step   int
}

func (e *ValidationError) Error() string {
	return "invalid flow: " + e.Field + ": " + e.Reason
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
