package worker

import (
	"encoding/json"
	"testing"

	"github.com/af-corp/chatrelay/internal/upstream"
)

// forkConv builds a mapping with a root, two user/assistant exchanges on the
// active branch, and one abandoned fork hanging off the first exchange.
func forkConv() *upstream.Conversation {
	node := func(id, parent, role, text string, children ...string) upstream.Node {
		n := upstream.Node{ID: id, Parent: parent, Children: children}
		if role != "" {
			m := &upstream.Message{ID: id}
			m.Author.Role = role
			part, _ := json.Marshal(text)
			m.Content.Parts = []json.RawMessage{part}
			n.Message = m
		}
		return n
	}
	return &upstream.Conversation{
		Title:       "Trip planning",
		CurrentNode: "a2",
		Mapping: map[string]upstream.Node{
			"root": node("root", "", "", "", "u1"),
			"u1":   node("u1", "root", "user", "Where should I go?", "a1", "a1-fork"),
			"a1":   node("a1", "u1", "assistant", "Try Lisbon.", "u2"),
			// Abandoned regeneration, not on the active branch.
			"a1-fork": node("a1-fork", "u1", "assistant", "Try Oslo."),
			"u2":      node("u2", "a1", "user", "What about food?", "a2"),
			"a2":      node("a2", "u2", "assistant", "Plenty of seafood."),
		},
	}
}

func TestThreadOfFollowsActiveBranch(t *testing.T) {
	thread := threadOf(forkConv())
	want := []struct{ role, text string }{
		{"user", "Where should I go?"},
		{"assistant", "Try Lisbon."},
		{"user", "What about food?"},
		{"assistant", "Plenty of seafood."},
	}
	if len(thread) != len(want) {
		t.Fatalf("thread length = %d, want %d", len(thread), len(want))
	}
	for i, w := range want {
		if thread[i].Role != w.role || thread[i].Text != w.text {
			t.Errorf("thread[%d] = %s %q, want %s %q", i, thread[i].Role, thread[i].Text, w.role, w.text)
		}
	}
	for _, m := range thread {
		if m.Text == "Try Oslo." {
			t.Error("fork message leaked into active branch")
		}
	}
}

func TestThreadOfToleratesCycles(t *testing.T) {
	conv := forkConv()
	// Corrupt the mapping with a parent cycle; the walk must terminate.
	n := conv.Mapping["root"]
	n.Parent = "a2"
	conv.Mapping["root"] = n
	threadOf(conv)
}

func TestThreadOfSkipsNonStringParts(t *testing.T) {
	conv := forkConv()
	n := conv.Mapping["a2"]
	n.Message.Content.Parts = []json.RawMessage{
		json.RawMessage(`{"asset_pointer":"file://x"}`),
		json.RawMessage(`"and a caption"`),
	}
	conv.Mapping["a2"] = n

	thread := threadOf(conv)
	last := thread[len(thread)-1]
	if last.Text != "and a caption" {
		t.Errorf("last text = %q", last.Text)
	}
}

