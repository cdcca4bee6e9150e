package http

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"classroom-session-service/internal/app"
	"classroom-session-service/internal/auth"
	"classroom-session-service/internal/domain"
	"github.com/go-chi/chi/v5"
)

// ExportHandler serves session snapshots to holders of an export token.
type ExportHandler struct {
	engine *app.Engine
	tokens *auth.TokenManager
	log    *slog.Logger
}

func NewExportHandler(engine *app.Engine, tokens *auth.TokenManager, log *slog.Logger) *ExportHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ExportHandler{engine: engine, tokens: tokens, log: log}
}

func (h *ExportHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/api/export/{code}/{format}", h.Export)
}

// Health reports engine load.
func (h *ExportHandler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"activeSessions": stats.Sessions,
		"connections":    stats.Connections,
	})
}

// Export writes the session as JSON or as a CSV roster.
func (h *ExportHandler) Export(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	format := chi.URLParam(r, "format")
	if format != "json" && format != "csv" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "format must be json or csv"})
		return
	}
	if h.tokens == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "exports disabled"})
		return
	}
	if _, err := h.tokens.Authorize(r.URL.Query().Get("token"), code); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid export token"})
		return
	}

	snap, err := h.engine.Snapshot(r.Context(), code)
	if errors.Is(err, domain.ErrSessionNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		h.log.Error("export snapshot", "session", code, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	filename := "session-" + snap.Code + "." + format
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if format == "json" {
		writeJSON(w, http.StatusOK, snap)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := writeRosterCSV(w, snap); err != nil {
		h.log.Warn("write csv export", "session", snap.Code, "error", err)
	}
}

func writeRosterCSV(w http.ResponseWriter, snap domain.SessionSnapshot) error {
	cw := csv.NewWriter(w)
	total := strconv.Itoa(len(snap.Questions))
	if err := cw.Write([]string{"name", "status", "progress", "total_questions", "joined_at"}); err != nil {
		return err
	}
	for _, p := range snap.Participants {
		row := []string{p.Name, string(p.Status), strconv.Itoa(p.Progress), total, p.JoinedAt.UTC().Format(time.RFC3339)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
