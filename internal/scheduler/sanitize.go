package scheduler

import (
	"fmt"
	"strings"
)

// Draft is a proposed task as returned by requirements decomposition,
// before it has been checked against the graph rules.
type Draft struct {
	ID            string
	Title         string
	Description   string
	Role          string
	DependsOn     []string
	AgentNameHint string
}

// SanitizeDrafts turns decomposition output into tasks ready for AddTasks.
//
// Missing IDs are filled in, duplicate IDs renamed, dependency lists trimmed
// and de-duplicated, references to unknown IDs dropped, and unknown roles
// replaced by RoleSynthesizer. Every repair is reported as a warning.
// Cycles are left alone so AddTasks rejects them.
func SanitizeDrafts(drafts []Draft) ([]*Task, []string) {
	var warnings []string

	ids := make([]string, len(drafts))
	seen := make(map[string]bool, len(drafts))
	// original ID -> first sanitized ID carrying it, for dependency lookup
	alias := make(map[string]string, len(drafts))

	for i, draft := range drafts {
		id := strings.TrimSpace(draft.ID)
		if id == "" {
			id = fmt.Sprintf("task-%d", i+1)
			for seen[id] {
				id += "x"
			}
			warnings = append(warnings, fmt.Sprintf("task %d had no ID, assigned %q", i+1, id))
		} else if seen[id] {
			base := id
			for n := 2; seen[id]; n++ {
				id = fmt.Sprintf("%s-%d", base, n)
			}
			warnings = append(warnings, fmt.Sprintf("duplicate task ID %q renamed to %q", base, id))
		}
		seen[id] = true
		ids[i] = id
		if orig := strings.TrimSpace(draft.ID); orig != "" {
			if _, ok := alias[orig]; !ok {
				alias[orig] = id
			}
		}
	}

	tasks := make([]*Task, 0, len(drafts))
	for i, draft := range drafts {
		role, err := ParseRole(draft.Role)
		if err != nil {
			role = RoleSynthesizer
			warnings = append(warnings, fmt.Sprintf("task %q has unknown role %q, using %s", ids[i], draft.Role, role))
		}

		var deps []string
		depSeen := make(map[string]bool, len(draft.DependsOn))
		for _, raw := range draft.DependsOn {
			ref := strings.TrimSpace(raw)
			if ref == "" {
				continue
			}
			target, ok := alias[ref]
			if !ok {
				warnings = append(warnings, fmt.Sprintf("task %q depends on unknown task %q, dependency dropped", ids[i], ref))
				continue
			}
			if depSeen[target] {
				continue
			}
			depSeen[target] = true
			deps = append(deps, target)
		}

		title := strings.TrimSpace(draft.Title)
		if title == "" {
			title = ids[i]
		}

		tasks = append(tasks, &Task{
			ID:            ids[i],
			Title:         title,
			Description:   strings.TrimSpace(draft.Description),
			Role:          role,
			Status:        TaskPending,
			DependsOn:     deps,
			AgentNameHint: strings.TrimSpace(draft.AgentNameHint),
		})
	}

	return tasks, warnings
}
