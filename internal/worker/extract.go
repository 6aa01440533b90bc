package worker

import (
	"encoding/json"
	"strings"

	"github.com/af-corp/chatrelay/internal/upstream"
)

// ThreadMessage is one visible message on the conversation's active branch.
type ThreadMessage struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	Text string `json:"text"`
}

// threadOf walks the mapping from the current node back to the root and
// returns the active branch oldest-first. Nodes without a message (the
// synthetic root) and messages with no text are skipped. Forks off the
// active branch are invisible by construction: only parent links are
// followed.
func threadOf(conv *upstream.Conversation) []ThreadMessage {
	var thread []ThreadMessage
	seen := make(map[string]bool)
	for id := conv.CurrentNode; id != "" && !seen[id]; {
		seen[id] = true
		node, ok := conv.Mapping[id]
		if !ok {
			break
		}
		if m := node.Message; m != nil {
			if text := textOf(m); text != "" {
				thread = append(thread, ThreadMessage{ID: m.ID, Role: m.Author.Role, Text: text})
			}
		}
		id = node.Parent
	}
	// Walked leaf-to-root; callers want chronological order.
	for i, j := 0, len(thread)-1; i < j; i, j = i+1, j-1 {
		thread[i], thread[j] = thread[j], thread[i]
	}
	return thread
}

// textOf joins the string parts of a message. Non-string parts (images,
// tool payloads) are ignored.
func textOf(m *upstream.Message) string {
	var parts []string
	for _, raw := range m.Content.Parts {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

