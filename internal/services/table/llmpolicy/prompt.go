package llmpolicy

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemPrompt = `You are an automated player at a card table. You are seat %q.
Pick exactly one move from the list of legal moves.
Reply with <answer>{"id":"<move id>"}</answer>. Any reasoning must come before the answer block.`

// BuildPrompt renders the system and user messages for req.
func BuildPrompt(req Request) (system, user string) {
	system = fmt.Sprintf(systemPrompt, req.PlayerID)

	var b strings.Builder
	if view, err := json.Marshal(req.View); err == nil {
		b.WriteString("Table as you see it (JSON):\n")
		b.Write(view)
		b.WriteString("\n\n")
	}
	if req.Context.Recap != "" {
		b.WriteString("Recap: ")
		b.WriteString(req.Context.Recap)
		b.WriteString("\n")
	}
	if len(req.Context.Facts) > 0 {
		b.WriteString("Facts:\n")
		for _, fact := range req.Context.Facts {
			b.WriteString("- ")
			b.WriteString(fact)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nLegal moves:\n")
	for _, c := range req.Candidates {
		fmt.Fprintf(&b, "- %s: %s\n", c.ID, c.Summary)
	}
	return system, b.String()
}

// RepairNotice tells the model its previous answer was not usable.
func RepairNotice(got string, candidates []Candidate) string {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	if got == "" {
		got = "(none)"
	}
	return fmt.Sprintf("Your answer %q is not a legal move id. Reply again with <answer>{\"id\":\"<move id>\"}</answer> using one of: %s",
		got, strings.Join(ids, ", "))
}
