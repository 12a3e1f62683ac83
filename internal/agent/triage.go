package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/fentz26/pocketd/internal/models"
)

const triageInstructions = `You are the notification triage agent. A new Android notification arrived and you must decide how to handle it.

Decision options:
- ignore: junk, spam, system noise, marketing, app updates. No action.
- log: worth noting but no action needed. Save a short note for the user.
- alert: the user should see this soon but you should not act on it.
- act: act on it if that benefits the user, e.g. reply to a message from a real person.

When in doubt, act.

Start your reply with a single line of JSON:
{"action": "<ignore|log|alert|act>", "reason": "<brief explanation>"}
Then carry out the decision with your tools.`

// TriagePrompt builds the prompt sent to the agent for n.
func TriagePrompt(n models.NotificationEvent) string {
	var b strings.Builder
	b.WriteString(triageInstructions)
	b.WriteString("\n\nNotification:\n")
	fmt.Fprintf(&b, "App: %s\n", n.PackageName)
	fmt.Fprintf(&b, "Title: %s\n", n.Title)
	fmt.Fprintf(&b, "Text: %s\n", n.Text)
	if n.SubText != "" {
		fmt.Fprintf(&b, "SubText: %s\n", n.SubText)
	}
	if len(n.Actions) > 0 {
		fmt.Fprintf(&b, "Actions: %s\n", strings.Join(n.Actions, ", "))
	}
	return b.String()
}

var (
	jsonObjectRe = regexp.MustCompile(`\{[^{}]*\}`)
	decisionRe   = regexp.MustCompile(`(?im)^\s*\**decision\**\s*:\s*\**\s*\[?([a-z]+)\]?`)
	reasonRe     = regexp.MustCompile(`(?im)^\s*\**reason\**\s*:\s*\**\s*(.+)$`)
)

// ParseDecision extracts a triage decision from free-form agent text. It
// accepts a JSON object with an action field anywhere in the text, or
// "Decision:" / "Reason:" lines. Actions are lowercased.
func ParseDecision(text string) (*models.TriageResult, error) {
	for _, candidate := range jsonObjectRe.FindAllString(text, -1) {
		var r models.TriageResult
		if err := json.Unmarshal([]byte(candidate), &r); err != nil {
			continue
		}
		if r.Action = strings.ToLower(strings.TrimSpace(r.Action)); r.Action != "" {
			r.Reason = strings.TrimSpace(r.Reason)
			return &r, nil
		}
	}

	if m := decisionRe.FindStringSubmatch(text); m != nil {
		r := &models.TriageResult{Action: strings.ToLower(m[1])}
		if rm := reasonRe.FindStringSubmatch(text); rm != nil {
			r.Reason = strings.TrimSpace(rm[1])
		}
		return r, nil
	}

	return nil, ErrNoDecision
}
