package network

import (
	"fmt"
	"regexp"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

// ValidationError reports a malformed network configuration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("network: %s: %s", e.Field, e.Reason)
}

// ValidateNetwork checks a network configuration at write time so malformed
// triggers fail fast instead of silently no-op-ing during live routing.
func ValidateNetwork(net *models.AgentNetwork) error {
	if net.PrimaryAgentID == "" {
		return &ValidationError{Field: "primary_agent_id", Reason: "required"}
	}
	if net.MaxSwitchesPerHour < 0 {
		return &ValidationError{Field: "max_switches_per_hour", Reason: "must not be negative"}
	}

	seen := make(map[string]bool, len(net.Nodes))
	for i, node := range net.Nodes {
		if node.AgentID == "" {
			return &ValidationError{
				Field:  fmt.Sprintf("nodes[%d].agent_id", i),
				Reason: "required",
			}
		}
		if seen[node.AgentID] {
			return &ValidationError{
				Field:  fmt.Sprintf("nodes[%d].agent_id", i),
				Reason: "duplicate node for agent " + node.AgentID,
			}
		}
		seen[node.AgentID] = true

		for j, trig := range node.Triggers {
			field := fmt.Sprintf("nodes[%d].triggers[%d]", i, j)
			if trig.Keyword == "" {
				return &ValidationError{Field: field + ".keyword", Reason: "required"}
			}
			switch trig.MatchType {
			case models.MatchExact, models.MatchContains:
			case models.MatchRegex:
				if _, err := regexp.Compile(trig.Keyword); err != nil {
					return &ValidationError{
						Field:  field + ".keyword",
						Reason: "invalid regex: " + err.Error(),
					}
				}
			default:
				return &ValidationError{
					Field:  field + ".match_type",
					Reason: fmt.Sprintf("unknown match type %q", trig.MatchType),
				}
			}
			if trig.Priority < 0 || trig.Priority > 10 {
				return &ValidationError{Field: field + ".priority", Reason: "must be 0..10"}
			}
			if trig.Conditions != nil {
				switch trig.Conditions.TimeOfDay {
				case "", models.TimeMorning, models.TimeAfternoon, models.TimeEvening:
				default:
					return &ValidationError{
						Field:  field + ".conditions.time_of_day",
						Reason: fmt.Sprintf("unknown window %q", trig.Conditions.TimeOfDay),
					}
				}
			}
		}
	}
	return nil
}
