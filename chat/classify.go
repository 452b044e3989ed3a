package chat

import "strings"

// DefaultTrigger marks a chat line as a question.
const DefaultTrigger = "!question"

// Classifier tags chat lines that are also questions: the line contains the
// trigger token or an @mention of the channel, compared case-insensitively.
// The question keeps the original, unmodified text.
type Classifier struct {
	trigger string
	mention string
}

// NewClassifier builds a classifier for channel. An empty trigger falls back
// to DefaultTrigger.
func NewClassifier(trigger, channel string) Classifier {
	if strings.TrimSpace(trigger) == "" {
		trigger = DefaultTrigger
	}
	c := Classifier{trigger: strings.ToLower(trigger)}
	if ch := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(channel)), "#"); ch != "" {
		c.mention = "@" + ch
	}
	return c
}

// IsQuestion reports whether message belongs to the question stream.
func (c Classifier) IsQuestion(message string) bool {
	lower := strings.ToLower(message)
	if strings.Contains(lower, c.trigger) {
		return true
	}
	return c.mention != "" && strings.Contains(lower, c.mention)
}

// Classify is IsQuestion with the default trigger.
func Classify(message, channel string) bool {
	return NewClassifier(DefaultTrigger, channel).IsQuestion(message)
}
