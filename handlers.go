package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kwv/anchormesh/registry"
)

// newHTTPServer exposes the registry, prompts and overviews over HTTP.
func newHTTPServer(app *App) http.Handler {
	logger := app.Logger.Named("http")
	engine := app.Session.Engine
	prompts := app.Session.Prompts
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("/health request", zap.String("remote", r.RemoteAddr))
		counts, err := engine.Counts(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		status := struct {
			Status    string          `json:"status"`
			Timestamp time.Time       `json:"timestamp"`
			Counts    registry.Counts `json:"counts"`
			Prompts   int             `json:"prompts"`
			MQTT      bool            `json:"mqtt"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Counts:    counts,
			Prompts:   prompts.Len(),
			MQTT:      app.MQTT != nil && app.MQTT.IsConnected(),
		}
		writeJSON(w, logger, http.StatusOK, status)
	})

	mux.HandleFunc("GET /records", func(w http.ResponseWriter, r *http.Request) {
		records, err := engine.Snapshot(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, records)
	})

	mux.HandleFunc("DELETE /records/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := registry.AnchorID(r.PathValue("id"))
		if err := engine.RemoveRecord(r.Context(), id); err != nil {
			writeError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /reset", func(w http.ResponseWriter, r *http.Request) {
		if err := app.Session.Reset(r.Context()); err != nil {
			writeError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /prompts", func(w http.ResponseWriter, r *http.Request) {
		type promptView struct {
			registry.Prompt
			Question string `json:"question"`
		}
		pending := prompts.Pending()
		out := make([]promptView, 0, len(pending))
		for _, p := range pending {
			out = append(out, promptView{Prompt: p, Question: p.Question()})
		}
		writeJSON(w, logger, http.StatusOK, out)
	})

	mux.HandleFunc("POST /prompts/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Accepted *bool `json:"accepted"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Accepted == nil {
			http.Error(w, `body must be {"accepted": true|false}`, http.StatusBadRequest)
			return
		}
		if err := prompts.Resolve(r.PathValue("id"), *body.Accepted); err != nil {
			writeError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	// Detections block until any conversion prompt is answered.
	mux.HandleFunc("POST /detections", func(w http.ResponseWriter, r *http.Request) {
		var req registry.DetectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid detection: "+err.Error(), http.StatusBadRequest)
			return
		}
		out, err := app.Pipeline.Process(r.Context(), req)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, out)
	})

	mux.HandleFunc("GET /overview.svg", func(w http.ResponseWriter, r *http.Request) {
		records, err := engine.Snapshot(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := app.Renderer.RenderSVG(w, records); err != nil {
			logger.Error("rendering overview svg", zap.Error(err))
		}
	})

	mux.HandleFunc("GET /overview.png", func(w http.ResponseWriter, r *http.Request) {
		records, err := engine.Snapshot(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := app.Renderer.RenderPNG(w, records); err != nil {
			logger.Error("rendering overview png", zap.Error(err))
		}
	})

	return mux
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encoding response", zap.Error(err))
	}
}

// writeError maps registry errors to status codes.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrUnknownPrompt):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrStoreUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, registry.ErrEngineStopped):
		status = http.StatusServiceUnavailable
	}
	logger.Warn("request failed", zap.Int("status", status), zap.Error(err))
	http.Error(w, err.Error(), status)
}
