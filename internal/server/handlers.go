package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/schedkit/exchange-bridge/internal/exchange"
	"github.com/schedkit/exchange-bridge/internal/instrumentation"
	"github.com/schedkit/exchange-bridge/internal/logging"
	"github.com/schedkit/exchange-bridge/internal/store"
)

// validateResponse is the result of a configuration validation request.
type validateResponse struct {
	IsValid     bool     `json:"isValid"`
	Errors      []string `json:"errors"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// credentialResponse describes a stored credential. The blob itself is
// never returned.
type credentialResponse struct {
	ID        string    `json:"id"`
	UserHash  string    `json:"userHash"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// availabilityRequest is the body of an availability query.
type availabilityRequest struct {
	DateFrom          time.Time `json:"dateFrom"`
	DateTo            time.Time `json:"dateTo"`
	SelectedCalendars []string  `json:"selectedCalendars"`
}

// errorResponse is the uniform error body. Message comes from the adapter's
// user-safe taxonomy; upstream error text is not forwarded.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// handleValidate checks a candidate configuration without touching the
// network and returns all rule violations plus advisory suggestions.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var cfg exchange.Config
	if !s.decodeBody(w, r, &cfg) {
		return
	}

	result := exchange.Validate(cfg)
	resp := validateResponse{
		IsValid: result.IsValid,
		Errors:  result.Errors,
	}
	if resp.Errors == nil {
		resp.Errors = []string{}
	}

	// Suggestions need a parseable URL; skip them otherwise, the
	// validation errors already cover that case.
	if suggestions, err := exchange.Suggestions(cfg); err == nil {
		resp.Suggestions = suggestions
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleSaveCredentials validates a configuration, probes connectivity by
// listing the mailbox's calendars, and persists the credential encrypted.
// Nothing is stored if the probe fails.
func (s *Server) handleSaveCredentials(w http.ResponseWriter, r *http.Request) {
	var cfg exchange.Config
	if !s.decodeBody(w, r, &cfg) {
		return
	}

	if result := exchange.Validate(cfg); !result.IsValid {
		s.writeJSON(w, http.StatusUnprocessableEntity, validateResponse{IsValid: false, Errors: result.Errors})
		return
	}

	if err := s.probe(r, cfg); err != nil {
		s.writeError(w, err)
		return
	}

	blob, err := exchange.EncodeConfig(cfg, s.cfg.EncryptionKey)
	if err != nil {
		s.writeError(w, err)
		return
	}

	cred, err := s.store.Save(logging.AnonymizeEmail(cfg.Username), blob)
	if err != nil {
		s.writeError(w, err)
		return
	}

	event := instrumentation.NewCredentialEvent(instrumentation.AuditActionStored, cfg.Username).WithSpanContext(r.Context())
	s.audit.LogCredentialEvent(event.Complete(nil))

	s.writeJSON(w, http.StatusCreated, credentialResponse{
		ID:        cred.ID,
		UserHash:  cred.UserHash,
		CreatedAt: cred.CreatedAt,
		UpdatedAt: cred.UpdatedAt,
	})
}

// handleUpdateCredentials replaces a stored credential after the same
// validate-and-probe sequence as saving, then drops the cached adapter so
// the next operation uses the new configuration.
func (s *Server) handleUpdateCredentials(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var cfg exchange.Config
	if !s.decodeBody(w, r, &cfg) {
		return
	}

	if result := exchange.Validate(cfg); !result.IsValid {
		s.writeJSON(w, http.StatusUnprocessableEntity, validateResponse{IsValid: false, Errors: result.Errors})
		return
	}

	if err := s.probe(r, cfg); err != nil {
		s.writeError(w, err)
		return
	}

	blob, err := exchange.EncodeConfig(cfg, s.cfg.EncryptionKey)
	if err != nil {
		s.writeError(w, err)
		return
	}

	cred, err := s.store.Update(id, blob)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.dropService(id)

	event := instrumentation.NewCredentialEvent(instrumentation.AuditActionStored, cfg.Username).WithSpanContext(r.Context())
	s.audit.LogCredentialEvent(event.Complete(nil))

	s.writeJSON(w, http.StatusOK, credentialResponse{
		ID:        cred.ID,
		UserHash:  cred.UserHash,
		CreatedAt: cred.CreatedAt,
		UpdatedAt: cred.UpdatedAt,
	})
}

// handleDeleteCredentials removes a stored credential and tears down its
// cached adapter.
func (s *Server) handleDeleteCredentials(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	cred, err := s.store.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.store.Delete(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.dropService(id)

	event := instrumentation.NewCredentialEvent(instrumentation.AuditActionDeleted, cred.UserHash).WithSpanContext(r.Context())
	s.audit.LogCredentialEvent(event.Complete(nil))

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListCalendars(w http.ResponseWriter, r *http.Request) {
	svc, err := s.serviceFor(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	calendars, err := svc.ListCalendars(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, calendars)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	svc, err := s.serviceFor(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req availabilityRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if !req.DateFrom.Before(req.DateTo) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "dateFrom must be before dateTo", Kind: "config"})
		return
	}

	busy, err := svc.GetAvailability(r.Context(), req.DateFrom, req.DateTo, req.SelectedCalendars)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, busy)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	svc, err := s.serviceFor(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var event exchange.CalendarEvent
	if !s.decodeBody(w, r, &event) {
		return
	}

	created, err := svc.CreateEvent(r.Context(), event)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	svc, err := s.serviceFor(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var event exchange.CalendarEvent
	if !s.decodeBody(w, r, &event) {
		return
	}

	updated, err := svc.UpdateEvent(r.Context(), r.PathValue("uid"), event)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	svc, err := s.serviceFor(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := svc.DeleteEvent(r.Context(), r.PathValue("uid")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// probe verifies a configuration can actually reach the mailbox by listing
// its calendars with a short-lived adapter. The outcome is audited and
// counted.
func (s *Server) probe(r *http.Request, cfg exchange.Config) error {
	svc := s.newService(cfg)
	defer svc.Cleanup()

	_, err := svc.ListCalendars(r.Context())

	event := instrumentation.NewCredentialEvent(instrumentation.AuditActionValidated, cfg.Username).WithSpanContext(r.Context())
	s.audit.LogCredentialEvent(event.Complete(err))
	s.metrics.RecordCredentialValidation(r.Context(), event.Status(), logging.AnonymizeEmail(cfg.Username))

	return err
}

// decodeBody parses the JSON request body into v, writing a 400 on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Kind: "config"})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response failed", logging.Err(err))
	}
}

// writeError maps a classified error to an HTTP status. Unclassified errors
// get a generic body so upstream detail cannot leak.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "credential not found", Kind: "not_found"})
		return
	}

	kind := exchange.KindOf(err)
	status := statusForKind(kind)

	message := err.Error()
	if kind == exchange.KindUnknown {
		message = "The calendar operation failed. Check the server logs for details."
	}

	s.writeJSON(w, status, errorResponse{Error: message, Kind: kind.String()})
}

func statusForKind(kind exchange.Kind) int {
	switch kind {
	case exchange.KindNotFound:
		return http.StatusNotFound
	case exchange.KindConfig:
		return http.StatusBadRequest
	case exchange.KindAuth:
		return http.StatusUnauthorized
	case exchange.KindConnectivity, exchange.KindTLS:
		return http.StatusBadGateway
	case exchange.KindCredential, exchange.KindEnvironment, exchange.KindAuthSetup:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}
