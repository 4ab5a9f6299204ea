package graph_test

import (
	"strings"
	"testing"

	"github.com/aretw0/forkline/internal/presentation/graph"
	"github.com/aretw0/forkline/pkg/domain"
)

func ptr(s string) *string { return &s }

func TestGenerateMermaid(t *testing.T) {
	tests := []struct {
		name        string
		nodes       []domain.ForkNode
		contains    []string
		notContains []string
	}{
		{
			name: "Source Node Shape",
			nodes: []domain.ForkNode{
				{Repo: "origin/project", Status: domain.StatusSource},
			},
			contains: []string{
				"n0((\"origin/project\"))",
				"class n0 source;",
			},
		},
		{
			name: "Active Node Shape",
			nodes: []domain.ForkNode{
				{Repo: "origin/project", Status: domain.StatusSource},
				{Repo: "alpha/project", Parent: ptr("origin/project"), IdentityIndex: 0, Status: domain.StatusActive},
			},
			contains: []string{
				"n1[[\"alpha/project <br/> #0\"]]",
				"n0 --> n1",
				"class n1 active;",
			},
		},
		{
			name: "Exhausted Shows Quota",
			nodes: []domain.ForkNode{
				{Repo: "alpha/project", Status: domain.StatusExhausted, IdentityIndex: 2, QuotaUsed: 119.5},
			},
			contains: []string{
				"n0[\"alpha/project <br/> #2 119.5h\"]",
				"class n0 exhausted;",
			},
		},
		{
			name: "Disabled Edge Is Dotted",
			nodes: []domain.ForkNode{
				{Repo: "origin/project", Status: domain.StatusSource},
				{Repo: "alpha/project", Parent: ptr("origin/project"), Status: domain.StatusDisabled},
			},
			contains: []string{
				"n0 -.-> n1",
			},
			notContains: []string{
				"n0 --> n1",
			},
		},
		{
			name: "Unknown Parent Has No Edge",
			nodes: []domain.ForkNode{
				{Repo: "beta/project", Parent: ptr("gone/project"), Status: domain.StatusActive},
			},
			notContains: []string{
				"-->",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graph.GenerateMermaid(&domain.State{Nodes: tt.nodes})
			if !strings.HasPrefix(got, "graph TD\n") {
				t.Errorf("expected flowchart header, got:\n%s", got)
			}
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("expected output to contain %q, got:\n%s", want, got)
				}
			}
			for _, unwanted := range tt.notContains {
				if strings.Contains(got, unwanted) {
					t.Errorf("expected output not to contain %q, got:\n%s", unwanted, got)
				}
			}
		})
	}
}
