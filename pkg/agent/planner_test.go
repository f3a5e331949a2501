package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dukex/flowpilot/pkg/mocks"
	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func researcher() *models.Agent {
	return &models.Agent{
		ID:    "agent-1",
		OrgID: "org-1",
		Name:  "Researcher",
		Persona: models.Persona{
			Role:               "a market analyst",
			Tone:               "concise",
			ExpertiseAreas:     []string{"pricing", "SaaS"},
			CustomInstructions: "Always cite sources.",
		},
		Capabilities: []models.Capability{models.CapabilityWebSearch, models.CapabilityDataAnalysis},
	}
}

func TestPlanner_Plan(t *testing.T) {
	generator := &mocks.MockTextGenerator{}
	generator.On("Generate", mock.Anything, mock.MatchedBy(func(request protocol.GenerateRequest) bool {
		return request.Schema != nil && containsAll(request.Prompt,
			"a market analyst", "concise", "pricing, SaaS", "Always cite sources.",
			"web_search, data_analysis", "3 to 7", "Task: Compare pricing", "- prefer primary sources")
	})).Return(map[string]any{
		"steps": []any{
			map[string]any{"step_number": 1, "description": "Find competitors", "action": "search", "capability": "web_search"},
			map[string]any{"description": "Compare", "action": "analyze", "capability": "data_analysis"},
		},
	}, nil)

	plan, err := NewPlanner(generator).Plan(context.Background(), PlanRequest{
		Agent:   researcher(),
		Task:    "Compare pricing",
		Lessons: []string{"prefer primary sources"},
	})
	require.NoError(t, err)

	require.Len(t, plan, 2)
	assert.Equal(t, 1, plan[0].StepNumber)
	assert.Equal(t, models.CapabilityWebSearch, plan[0].Capability)
	assert.Equal(t, 2, plan[1].StepNumber)

	for _, step := range plan {
		assert.Equal(t, models.PlanStepPending, step.Status)
	}

	generator.AssertExpectations(t)
}

func TestPlanner_EmptyPlanIsAccepted(t *testing.T) {
	generator := &mocks.MockTextGenerator{}
	generator.On("Generate", mock.Anything, mock.Anything).Return(map[string]any{"steps": []any{}}, nil)

	plan, err := NewPlanner(generator).Plan(context.Background(), PlanRequest{Agent: researcher(), Task: "x"})
	require.NoError(t, err)
	assert.Empty(t, plan)
}

func TestPlanner_GeneratorFailure(t *testing.T) {
	generator := &mocks.MockTextGenerator{}
	generator.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("quota exceeded"))

	_, err := NewPlanner(generator).Plan(context.Background(), PlanRequest{Agent: researcher(), Task: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func containsAll(text string, parts ...string) bool {
	for _, part := range parts {
		if !strings.Contains(text, part) {
			return false
		}
	}

	return true
}
