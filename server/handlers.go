package server

import (
	"html/template"

	"github.com/onnwee/twitch-questions/chat"
	"github.com/onnwee/twitch-questions/logsink"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	relay    *chat.Relay
	logs     *logsink.Sink
	logIndex *template.Template
	cors     CORSConfig
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(relay *chat.Relay, logs *logsink.Sink) *Handlers {
	return &Handlers{
		relay:    relay,
		logs:     logs,
		logIndex: template.Must(template.New("logs").Parse(logIndexHTML)),
	}
}
