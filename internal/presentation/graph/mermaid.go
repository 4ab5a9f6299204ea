package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/forkline/pkg/domain"
)

// GenerateMermaid produces a Mermaid flowchart of the fork chain.
// It applies semantic styling:
// - Source: ((Circle))
// - Active: [[Subroutine]]
// - Exhausted, Disabled: [Rectangle]
// Edges into Disabled nodes are dotted. Every status gets its own class.
func GenerateMermaid(state *domain.State) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	ids := make(map[string]string, len(state.Nodes))
	for i, node := range state.Nodes {
		id := fmt.Sprintf("n%d", i)
		// A repo recreated after teardown resolves to its newest node.
		ids[node.Repo] = id

		opener, closer := "[", "]"
		switch node.Status {
		case domain.StatusSource:
			opener, closer = "((", "))"
		case domain.StatusActive:
			opener, closer = "[[", "]]"
		}

		label := sanitizeLabel(node.Repo)
		if node.Status != domain.StatusSource {
			label = fmt.Sprintf("%s <br/> #%d", label, node.IdentityIndex)
			if node.QuotaUsed > 0 {
				label = fmt.Sprintf("%s %.1fh", label, node.QuotaUsed)
			}
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", id, opener, label, closer))

		if node.Parent != nil {
			if from, ok := ids[*node.Parent]; ok {
				arrow := "-->"
				if node.Status == domain.StatusDisabled {
					arrow = "-.->"
				}
				sb.WriteString(fmt.Sprintf("    %s %s %s\n", from, arrow, id))
			}
		}
	}

	sb.WriteString("\n    %% Status Styles\n")
	sb.WriteString("    classDef source fill:#ede7f6,stroke:#4527a0,color:#000;\n")
	sb.WriteString("    classDef active fill:#c8e6c9,stroke:#2e7d32,stroke-width:4px,color:#000;\n")
	sb.WriteString("    classDef exhausted fill:#ffe0b2,stroke:#ef6c00,color:#000;\n")
	sb.WriteString("    classDef disabled fill:#eeeeee,stroke:#9e9e9e,stroke-dasharray:4,color:#616161;\n")
	for i, node := range state.Nodes {
		sb.WriteString(fmt.Sprintf("    class n%d %s;\n", i, node.Status))
	}

	return sb.String()
}

func sanitizeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}
