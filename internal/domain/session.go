package domain

// Speaker labels used by the history view.
const (
	SpeakerUser = "user"
	SpeakerAI   = "ai"
)

// Turn is one user message and the assistant reply to it.
type Turn struct {
	User      string
	Assistant string
}

// Messages returns the turn as two messages, user first.
func (t Turn) Messages() []Message {
	return []Message{UserMessage(t.User), AssistantMessage(t.Assistant)}
}

// HistoryEntry is the read-only projection of a stored message.
type HistoryEntry struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// HistoryEntries flattens turns into history entries in conversation order.
func HistoryEntries(turns []Turn) []HistoryEntry {
	entries := make([]HistoryEntry, 0, 2*len(turns))
	for _, t := range turns {
		entries = append(entries,
			HistoryEntry{Type: SpeakerUser, Content: t.User},
			HistoryEntry{Type: SpeakerAI, Content: t.Assistant},
		)
	}
	return entries
}
