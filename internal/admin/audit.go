package admin

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	maxAuditBodyBytes = 1024
	requestIDHeader   = "X-Request-Id"
)

// passAudit is the pass state an operator action landed on.
type passAudit struct {
	ID            string
	Status        string
	MergedBatches int64
}

func (p passAudit) LogValue() slog.Value {
	if p.ID == "" {
		return slog.GroupValue(slog.String("status", p.Status))
	}
	return slog.GroupValue(
		slog.String("id", p.ID),
		slog.String("status", p.Status),
		slog.Int64("merged_batches", p.MergedBatches),
	)
}

// AuditMiddleware logs every mutating request together with the pass it hit,
// before and after the handler ran, so a stop can be tied to the batches that
// had already merged. pass may be nil when no pass is attached.
func AuditMiddleware(logger *slog.Logger, pass HealthProvider, next http.Handler) http.Handler {
	auditLogger := logger.With("component", "admin_audit")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		requestID := requestIDFrom(r)
		w.Header().Set(requestIDHeader, requestID)

		body, reason := readAuditBody(r)
		before := passState(pass)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if rec.status >= http.StatusBadRequest {
			level = slog.LevelWarn
		}
		auditLogger.Log(r.Context(), level, "operator action",
			"request_id", requestID,
			"client", extractClientIP(r),
			"method", r.Method,
			"path", r.URL.Path,
			"reason", reason,
			"body", body,
			"status", rec.status,
			"pass", before,
			"pass_after", passState(pass),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// requestIDFrom keeps a caller supplied uuid so the operator's own tooling can
// correlate, and mints one otherwise.
func requestIDFrom(r *http.Request) string {
	if id, err := uuid.Parse(r.Header.Get(requestIDHeader)); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// readAuditBody returns a truncated copy of the body and its "reason" field,
// leaving the full body readable downstream.
func readAuditBody(r *http.Request) (summary, reason string) {
	if r.Body == nil {
		return "", ""
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxAuditBodyBytes+1))
	if err != nil {
		return "", ""
	}
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(raw), r.Body))

	summary = string(raw)
	if len(raw) > maxAuditBodyBytes {
		return string(raw[:maxAuditBodyBytes]) + "...(truncated)", ""
	}
	var payload struct {
		Reason string `json:"reason"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		reason = payload.Reason
	}
	return summary, reason
}

func passState(pass HealthProvider) passAudit {
	if pass == nil {
		return passAudit{Status: "detached"}
	}
	snap := pass.Snapshot()
	return passAudit{ID: snap.PassID, Status: snap.Status, MergedBatches: snap.MergedBatches}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.wroteHeader {
		sr.status = code
		sr.wroteHeader = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.wroteHeader = true
	return sr.ResponseWriter.Write(b)
}
