// Package api exposes the device and operator HTTP endpoints.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"example.com/schoolsync/internal/domain"
)

const maxBodyBytes = 4 << 20

// Handler coordinates HTTP requests with the domain services.
type Handler struct {
	sync    *domain.SyncService
	ingest  *domain.IngestService
	reports *domain.ReportService
	devices *domain.DeviceService
}

// NewHandler builds a Handler.
func NewHandler(sync *domain.SyncService, ingest *domain.IngestService, reports *domain.ReportService, devices *domain.DeviceService) *Handler {
	return &Handler{sync: sync, ingest: ingest, reports: reports, devices: devices}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/device/assets", h.deviceAssets)
	mux.HandleFunc("/api/device/ingest", h.deviceIngest)
	mux.HandleFunc("/api/device/school-info", h.schoolInfo)
	mux.HandleFunc("/api/device/class-students", h.classStudents)
	mux.HandleFunc("/api/school/exercises", h.schoolExercises)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readJSONBody enforces the JSON content type and returns the raw body. It
// writes the error response itself and returns ok=false on failure.
func readJSONBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
		return nil, false
	}
	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type: application/json required")
		return nil, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read body")
		return nil, false
	}
	body = bytes.TrimSpace(body)
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	return body, true
}

// firstField returns the first of names present in obj.
func firstField(obj map[string]json.RawMessage, names ...string) (json.RawMessage, bool) {
	for _, name := range names {
		if raw, ok := obj[name]; ok && !isNull(raw) {
			return raw, true
		}
	}
	return nil, false
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// textField decodes a loosely typed string field from obj.
func textField(obj map[string]json.RawMessage, names ...string) string {
	raw, ok := firstField(obj, names...)
	if !ok {
		return ""
	}
	var text domain.Text
	if err := json.Unmarshal(raw, &text); err != nil {
		return ""
	}
	return strings.TrimSpace(text.Value)
}

// serverError maps store failures to 500 and everything else to fallback.
func serverError(err error, fallback int) int {
	if errors.Is(err, domain.ErrUnavailable) {
		return http.StatusInternalServerError
	}
	return fallback
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
