package orchestrator

import (
	"fmt"
	"strings"
	"sync"
)

// KnowledgeBase accumulates the results of completed tasks. It only grows
// until Reset.
type KnowledgeBase struct {
	mu   sync.Mutex
	text strings.Builder
}

// NewKnowledgeBase returns a knowledge base seeded with initial text.
func NewKnowledgeBase(initial string) *KnowledgeBase {
	kb := &KnowledgeBase{}
	kb.text.WriteString(initial)
	return kb
}

// Append records a completed task's result.
func (kb *KnowledgeBase) Append(title, result string) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	fmt.Fprintf(&kb.text, "\n\nTask: %s\nResult: %s", title, result)
}

// Excerpt returns at most the first limit runes. limit <= 0 returns everything.
func (kb *KnowledgeBase) Excerpt(limit int) string {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	s := kb.text.String()
	if limit <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

func (kb *KnowledgeBase) String() string {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return kb.text.String()
}

// Reset empties the knowledge base.
func (kb *KnowledgeBase) Reset() {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.text.Reset()
}
