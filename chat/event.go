package chat

import (
	"fmt"
	"strings"
	"time"
)

// Event names pushed to realtime clients.
const (
	EventNewMessage  = "newMessage"
	EventNewQuestion = "newQuestion"
)

// Message is one relayed chat line. Questions use the same shape.
type Message struct {
	User       string    `json:"user"`
	Message    string    `json:"message"`
	ReceivedAt time.Time `json:"-"`
}

// Envelope is the unit broadcast to clients.
type Envelope struct {
	Event string  `json:"event"`
	Data  Message `json:"data"`
}

// Snapshot is the buffered history handed to a new subscriber, oldest first.
type Snapshot struct {
	Messages  []Message `json:"messages"`
	Questions []Message `json:"questions"`
}

// Replay returns the envelopes a new client receives before the live stream:
// every chat message, then every question, each in chronological order.
func (s Snapshot) Replay() []Envelope {
	out := make([]Envelope, 0, len(s.Messages)+len(s.Questions))
	for _, m := range s.Messages {
		out = append(out, Envelope{Event: EventNewMessage, Data: m})
	}
	for _, q := range s.Questions {
		out = append(out, Envelope{Event: EventNewQuestion, Data: q})
	}
	return out
}

// FormatLine renders a log line: "[#channel] user: message".
func FormatLine(channel, user, message string) string {
	return fmt.Sprintf("[#%s] %s: %s", strings.TrimPrefix(channel, "#"), user, message)
}
