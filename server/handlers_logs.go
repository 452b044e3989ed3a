package server

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/twitch-questions/logsink"
	"github.com/onnwee/twitch-questions/telemetry"
)

const logIndexHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Chat logs</title></head>
<body>
<h1>Chat logs</h1>
{{- if not .}}
<p>No logs yet.</p>
{{- end}}
{{- range $shard := .}}
<h2>{{$shard.Date}}</h2>
<ul>
{{- range $shard.Files}}
<li><a href="/logs/{{$shard.Date}}/{{.}}">{{.}}</a></li>
{{- end}}
</ul>
{{- end}}
</body>
</html>
`

type shardListing struct {
	Date  string
	Files []string
}

// HandleLogIndex renders every shard and its files as HTML, newest first.
func (h *Handlers) HandleLogIndex(w http.ResponseWriter, r *http.Request) {
	shards, err := h.logs.ListShards()
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("list shards failed", slog.Any("err", err))
		http.Error(w, "failed to read logs", http.StatusInternalServerError)
		return
	}
	listing := make([]shardListing, 0, len(shards))
	for _, shard := range shards {
		files, err := h.logs.ListFiles(shard)
		if err != nil {
			telemetry.LoggerWithCorr(r.Context()).Warn("list files failed", slog.String("shard", shard), slog.Any("err", err))
			continue
		}
		listing = append(listing, shardListing{Date: shard, Files: files})
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.logIndex.Execute(w, listing); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("render log index failed", slog.Any("err", err))
	}
}

// HandleLogFile serves one log file as plain text. Invalid or unknown names are 404.
func (h *Handlers) HandleLogFile(w http.ResponseWriter, r *http.Request) {
	date, file := r.PathValue("date"), r.PathValue("file")
	f, err := h.logs.Open(date, file)
	if err != nil {
		if errors.Is(err, logsink.ErrInvalidName) || errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		telemetry.LoggerWithCorr(r.Context()).Error("open log file failed", slog.String("date", date), slog.String("file", file), slog.Any("err", err))
		http.Error(w, "failed to read log", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, "failed to read log", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	http.ServeContent(w, r, file, info.ModTime(), f)
}

// HandleDirectories lists shard names, newest first.
func (h *Handlers) HandleDirectories(w http.ResponseWriter, r *http.Request) {
	shards, err := h.logs.ListShards()
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("list shards failed", slog.Any("err", err))
		writeJSONError(w, http.StatusInternalServerError, "failed to read log directories")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"directories": shards})
}

// HandleFiles lists the .txt files of one shard.
func (h *Handlers) HandleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.logs.ListFiles(r.PathValue("date"))
	if err != nil {
		if errors.Is(err, logsink.ErrInvalidName) || errors.Is(err, fs.ErrNotExist) {
			writeJSONError(w, http.StatusNotFound, "log directory not found")
			return
		}
		telemetry.LoggerWithCorr(r.Context()).Error("list files failed", slog.Any("err", err))
		writeJSONError(w, http.StatusInternalServerError, "failed to read log files")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"files": files})
}

// HandleSearch greps every log file for the literal, case-insensitive query q.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		writeJSONError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	ctx, span := telemetry.StartSpan(r.Context(), "logsink", "logs.search")
	defer span.End()
	var (
		results []logsink.SearchResult
		err     error
	)
	d := telemetry.TimeFunc(telemetry.SearchDuration, func() {
		results, err = h.logs.Search(ctx, q)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		if ctx.Err() != nil {
			return
		}
		telemetry.LoggerWithCorr(ctx).Error("log search failed", slog.Any("err", err))
		writeJSONError(w, http.StatusInternalServerError, "search failed")
		return
	}
	telemetry.SetSpanSuccess(span)
	telemetry.LoggerWithCorr(ctx).Debug("log search", slog.Int("results", len(results)), slog.Duration("took", d))
	writeJSON(w, http.StatusOK, map[string][]logsink.SearchResult{"results": results})
}
