package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tkrause/jobgate/internal/domain"
	"go.uber.org/zap"
)

// Server is the HTTP adapter: job submission, status polling and the
// payment-gateway webhook.
type Server struct {
	admission *domain.AdmissionService
	status    *domain.StatusService
	ledger    *domain.LedgerService
	log       *zap.Logger
	secret    string
	server    *http.Server
	router    chi.Router
}

// NewServer creates the HTTP server. secret authenticates webhook
// deliveries; empty disables verification (dev only).
func NewServer(admission *domain.AdmissionService, status *domain.StatusService, ledger *domain.LedgerService, addr, secret string, log *zap.Logger) *Server {
	s := &Server{
		admission: admission,
		status:    status,
		ledger:    ledger,
		log:       log,
		secret:    secret,
	}
	r := chi.NewRouter()
	r.Post("/v1/jobs", s.handleSubmit)
	r.Get("/v1/jobs/{id}", s.handleStatus)
	r.Post("/v1/payments/webhook", s.handleWebhook)
	r.Get("/health", s.handleHealth)
	s.router = r
	s.server = &http.Server{Addr: addr, Handler: r}
	return s
}

type submitRequest struct {
	AccountID      string          `json:"account_id"`
	JobType        string          `json:"job_type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
	State string `json:"state"`
}

type statusResponse struct {
	JobID         string          `json:"job_id"`
	State         string          `json:"state"`
	Result        json.RawMessage `json:"result,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	QueuePosition *int            `json:"queue_position,omitempty"`
}

type webhookRequest struct {
	EventID    string `json:"event_id"`
	AccountID  string `json:"account_id"`
	Effect     string `json:"effect"`
	Points     int64  `json:"points,omitempty"`
	Plan       string `json:"plan,omitempty"`
	ExtendDays int    `json:"extend_days,omitempty"`
}

type webhookResponse struct {
	Applied bool `json:"applied"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON", "")
		return
	}

	job, err := s.admission.Submit(r.Context(), domain.SubmitRequest{
		AccountID:      req.AccountID,
		Type:           domain.JobType(req.JobType),
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		if rej, ok := domain.AsRejection(err); ok {
			s.writeRejection(w, rej)
			return
		}
		s.log.Error("submit failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	s.writeJSON(w, http.StatusAccepted, submitResponse{JobID: job.ID, State: string(job.State)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	requester := r.URL.Query().Get("account_id")
	if requester == "" {
		s.writeError(w, http.StatusBadRequest, "account_id query parameter is required", "")
		return
	}

	snap, err := s.status.Get(r.Context(), jobID, requester)
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "job not found", "")
		return
	case errors.Is(err, domain.ErrNotOwner):
		s.writeError(w, http.StatusForbidden, "job belongs to another account", "")
		return
	case err != nil:
		s.log.Error("status read failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}

	resp := statusResponse{
		JobID:         snap.JobID,
		State:         string(snap.State),
		Result:        snap.Result,
		FailureReason: snap.FailureReason,
	}
	if snap.QueuePosition >= 0 {
		pos := snap.QueuePosition
		resp.QueuePosition = &pos
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body", "")
		return
	}
	if s.secret != "" {
		if err := s.verifySignature(r, body); err != nil {
			s.log.Warn("webhook verification failed", zap.Error(err))
			s.writeError(w, http.StatusUnauthorized, err.Error(), "")
			return
		}
	}

	var req webhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON", "")
		return
	}

	applied, err := s.ledger.Ingest(r.Context(), &domain.PaymentEvent{
		EventID:    req.EventID,
		AccountID:  req.AccountID,
		Effect:     domain.PaymentEffect(req.Effect),
		Points:     req.Points,
		Plan:       domain.Plan(req.Plan),
		ExtendDays: req.ExtendDays,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	// Always 200, applied or not, so the gateway stops retrying.
	s.writeJSON(w, http.StatusOK, webhookResponse{Applied: applied})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

const maxTimestampSkew = 5 * time.Minute

// verifySignature checks the gateway's HMAC over "{timestamp}\n{body}".
func (s *Server) verifySignature(r *http.Request, body []byte) error {
	timestamp := r.Header.Get("X-Timestamp")
	if timestamp == "" {
		return fmt.Errorf("missing X-Timestamp header")
	}
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return fmt.Errorf("invalid X-Timestamp: must be RFC3339")
	}
	skew := time.Since(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxTimestampSkew {
		return fmt.Errorf("X-Timestamp too far from current time (skew %v)", skew.Truncate(time.Second))
	}

	signature := r.Header.Get("X-Signature")
	if signature == "" {
		return fmt.Errorf("missing X-Signature header")
	}
	mac := hmac.New(sha256.New, []byte(s.secret))
	fmt.Fprintf(mac, "%s\n%s", timestamp, body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

func (s *Server) writeRejection(w http.ResponseWriter, rej *domain.Rejection) {
	status := http.StatusBadRequest
	switch rej.Code {
	case domain.CodeQuotaExceeded:
		status = http.StatusPaymentRequired
	case domain.CodeOverloaded:
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", "30")
	}
	s.writeJSON(w, status, errorResponse{Error: rej.Message, Code: string(rej.Code)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg, code string) {
	s.writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func readBody(r *http.Request) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
