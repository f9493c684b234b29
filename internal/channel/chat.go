package channel

import (
	"strings"

	"codraft/internal/protocol"
)

// ChatMessage is one entry of a document's ephemeral chat log, in receipt
// order. Ids are assigned by the server.
type ChatMessage struct {
	ID       string
	UserID   string
	Nickname string
	Content  string
	Ordinal  int
}

// ChatLog is the per-document chat relay. Sending never appends locally;
// the server echo is the single source of truth for ordering and ids, so
// the sender's own message appears only once it comes back. Not safe for
// concurrent use.
type ChatLog struct {
	documentID string
	publish    func(protocol.Intent)

	messages []ChatMessage
	unread   int
	focused  bool
}

func NewChatLog(documentID string, publish func(protocol.Intent)) *ChatLog {
	return &ChatLog{documentID: documentID, publish: publish}
}

// Send publishes a chat message. Blank content is dropped. Reports whether
// anything was sent.
func (c *ChatLog) Send(content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}
	c.publish(protocol.ChatIntent{DocumentID: c.documentID, Content: content})
	return true
}

// Append records a received chat event, bumping the unread counter when the
// chat view is not focused.
func (c *ChatLog) Append(ev protocol.ChatEvent) ChatMessage {
	msg := ChatMessage{
		ID:       ev.ID,
		UserID:   ev.UserID,
		Nickname: ev.Nickname,
		Content:  ev.Content,
		Ordinal:  len(c.messages) + 1,
	}
	c.messages = append(c.messages, msg)
	if !c.focused {
		c.unread++
	}
	return msg
}

// Seed installs history fetched from the external store at join time.
// Live messages append after it.
func (c *ChatLog) Seed(history []ChatMessage) {
	c.messages = make([]ChatMessage, len(history))
	copy(c.messages, history)
	for i := range c.messages {
		c.messages[i].Ordinal = i + 1
	}
}

// SetFocused toggles chat focus; focusing clears the unread counter.
func (c *ChatLog) SetFocused(focused bool) {
	c.focused = focused
	if focused {
		c.unread = 0
	}
}

func (c *ChatLog) Unread() int { return c.unread }

// Messages returns a copy of the log, oldest first.
func (c *ChatLog) Messages() []ChatMessage {
	out := make([]ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}
