package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/onnwee/twitch-questions/chat"
	"github.com/onnwee/twitch-questions/hub"
	"github.com/onnwee/twitch-questions/telemetry"
)

const (
	wsWriteTimeout    = 5 * time.Second
	sseKeepAliveEvery = 25 * time.Second
)

// clearDeadlines lifts the server's read/write timeouts for a long-lived stream.
func clearDeadlines(w http.ResponseWriter) {
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})
}

// HandleWebSocket upgrades to a WebSocket, replays the buffered chat and
// questions oldest first, then streams live events as JSON text frames.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "ws"))
	clearDeadlines(w)
	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		log.Warn("websocket accept failed", slog.Any("err", err))
		return
	}
	defer conn.CloseNow()

	snap, sub := h.relay.Subscribe()
	defer h.relay.Unsubscribe(sub)
	log.Info("realtime client connected", slog.String("client", sub.ID), slog.Int("replay", len(snap.Messages)+len(snap.Questions)))

	// clients only listen; CloseRead handles their control frames and
	// cancels ctx once they go away
	ctx := conn.CloseRead(r.Context())

	for _, env := range snap.Replay() {
		if err := writeEnvelope(ctx, conn, env); err != nil {
			log.Debug("websocket replay aborted", slog.String("client", sub.ID), slog.Any("err", err))
			return
		}
	}
	if err := pumpWebSocket(ctx, conn, sub); err != nil {
		log.Debug("websocket closed", slog.String("client", sub.ID), slog.Any("err", err))
		return
	}
	_ = conn.Close(websocket.StatusGoingAway, "relay stopped")
}

// acceptOptions applies the CORS policy to the WebSocket origin check. A
// request from the server's own host is always accepted.
func (h *Handlers) acceptOptions() *websocket.AcceptOptions {
	if h.cors.Permissive {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: originPatterns(h.cors.AllowedOrigins)}
}

// originPatterns turns CORS origins into the host patterns the WebSocket
// handshake matches: "https://a.com" becomes "a.com"; "*.a.com" also admits "a.com".
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if strings.HasPrefix(o, "*.") {
			out = append(out, o, o[2:])
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}

// pumpWebSocket streams until the client leaves (error) or the relay closes
// the subscription (nil).
func pumpWebSocket(ctx context.Context, conn *websocket.Conn, sub *hub.Subscription[chat.Envelope]) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := writeEnvelope(ctx, conn, env); err != nil {
				return err
			}
		}
	}
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env chat.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

// HandleEvents is the Server-Sent Events variant of the realtime stream:
// same replay and ordering as the WebSocket, one "event:"/"data:" pair per envelope.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	clearDeadlines(w)
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "sse"))

	snap, sub := h.relay.Subscribe()
	defer h.relay.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, env := range snap.Replay() {
		if err := writeSSE(w, env); err != nil {
			log.Debug("sse replay aborted", slog.Any("err", err))
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAliveEvery)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case env, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeSSE(w, env); err != nil {
				log.Debug("sse write failed", slog.Any("err", err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, env chat.Envelope) error {
	data, err := json.Marshal(env.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Event, data)
	return err
}
