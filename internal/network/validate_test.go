package network

import (
	"errors"
	"testing"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

func validNetwork() *models.AgentNetwork {
	return &models.AgentNetwork{
		TenantID:       "t1",
		PrimaryAgentID: "agent-a",
		Nodes: []models.NetworkNode{
			{AgentID: "agent-a", Role: models.RolePrimary},
			{AgentID: "agent-b", Role: models.RoleTrigger, Triggers: []models.Trigger{
				{Keyword: "soporte", MatchType: models.MatchContains, Priority: 5},
			}},
		},
		MaxSwitchesPerHour: 3,
	}
}

func TestValidateNetworkOK(t *testing.T) {
	if err := ValidateNetwork(validNetwork()); err != nil {
		t.Fatalf("ValidateNetwork() error = %v", err)
	}
}

func TestValidateNetworkRejectsMalformedRegex(t *testing.T) {
	net := validNetwork()
	net.Nodes[1].Triggers = append(net.Nodes[1].Triggers, models.Trigger{
		Keyword:   "[invalid",
		MatchType: models.MatchRegex,
		Priority:  5,
	})

	err := ValidateNetwork(net)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("ValidateNetwork() error = %v, want *ValidationError", err)
	}
}

func TestValidateNetworkRejectsBadFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.AgentNetwork)
	}{
		{"missing primary", func(n *models.AgentNetwork) { n.PrimaryAgentID = "" }},
		{"negative switch ceiling", func(n *models.AgentNetwork) { n.MaxSwitchesPerHour = -1 }},
		{"duplicate node", func(n *models.AgentNetwork) {
			n.Nodes = append(n.Nodes, models.NetworkNode{AgentID: "agent-b"})
		}},
		{"empty keyword", func(n *models.AgentNetwork) {
			n.Nodes[1].Triggers[0].Keyword = ""
		}},
		{"unknown match type", func(n *models.AgentNetwork) {
			n.Nodes[1].Triggers[0].MatchType = "fuzzy"
		}},
		{"priority out of range", func(n *models.AgentNetwork) {
			n.Nodes[1].Triggers[0].Priority = 11
		}},
		{"unknown time window", func(n *models.AgentNetwork) {
			n.Nodes[1].Triggers[0].Conditions = &models.TriggerConditions{TimeOfDay: "noon"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net := validNetwork()
			tt.mutate(net)
			if err := ValidateNetwork(net); err == nil {
				t.Fatal("ValidateNetwork() error = nil, want validation error")
			}
		})
	}
}
