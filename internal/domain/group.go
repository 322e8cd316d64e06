package domain

import (
	"math/rand/v2"
	"slices"
)

// GroupColors is the fixed display palette for prompt groups.
var GroupColors = []string{
	"#3B82F6",
	"#10B981",
	"#F59E0B",
	"#EF4444",
	"#8B5CF6",
	"#EC4899",
	"#06B6D4",
	"#F97316",
}

// PromptGroup shares one prompt across a set of jobs. A job belongs to at
// most one group at a time.
type PromptGroup struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Prompt    string   `json:"prompt"`
	MemberIDs []string `json:"member_ids"`
	Color     string   `json:"color"`
}

// HasMember reports whether jobID is in the group.
func (g PromptGroup) HasMember(jobID string) bool {
	return slices.Contains(g.MemberIDs, jobID)
}

// Clone returns a copy that does not share the member slice.
func (g PromptGroup) Clone() PromptGroup {
	out := g
	out.MemberIDs = slices.Clone(g.MemberIDs)
	return out
}

// NextGroupColor picks the first palette colour not in used, or a random
// palette colour once all are taken.
func NextGroupColor(used []string) string {
	for _, c := range GroupColors {
		if !slices.Contains(used, c) {
			return c
		}
	}
	return GroupColors[rand.IntN(len(GroupColors))]
}
