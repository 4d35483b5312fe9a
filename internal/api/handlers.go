package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"Go2NetMonitor/internal/correlator"
	"Go2NetMonitor/internal/persist"

	"github.com/gorilla/mux"
)

type errorResponse struct {
	ID    uint64 `json:"id,omitempty"`
	Error string `json:"error"`
}

type interactionRequest struct {
	Phase   string `json:"phase"` // "start" or "finish"
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

type rangeRequest struct {
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

type requestIDResponse struct {
	ID uint64 `json:"id"`
}

type isolateRequest struct {
	Interface string `json:"interface"`
}

type isolateResponse struct {
	Isolated string `json:"isolated"`
}

type producerResponse struct {
	Producer string `json:"producer"`
	Running  bool   `json:"running"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, id uint64, err error) {
	writeJSON(w, status, errorResponse{ID: id, Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTrafficView(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Orchestrator.TrafficView(r.Context())
	if err != nil {
		writeError(w, statusFor(err), 0, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDNSView(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Orchestrator.DNSView(r.Context())
	if err != nil {
		writeError(w, statusFor(err), 0, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	surface, err := correlator.ParseSurface(mux.Vars(r)["surface"])
	if err != nil {
		writeError(w, http.StatusNotFound, 0, err)
		return
	}
	var req interactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, 0, fmt.Errorf("invalid request body: %w", err))
		return
	}

	switch req.Phase {
	case "start":
		err = s.deps.Orchestrator.InteractionStarted(r.Context(), surface)
	case "finish":
		err = s.deps.Orchestrator.InteractionFinished(r.Context(), surface, req.StartMs, req.EndMs)
	default:
		writeError(w, http.StatusBadRequest, 0, fmt.Errorf("unknown phase %q", req.Phase))
		return
	}
	if err != nil {
		writeError(w, statusFor(err), 0, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSnapBack(w http.ResponseWriter, r *http.Request) {
	surface, err := correlator.ParseSurface(mux.Vars(r)["surface"])
	if err != nil {
		writeError(w, http.StatusNotFound, 0, err)
		return
	}
	if err := s.deps.Orchestrator.SnapBack(r.Context(), surface); err != nil {
		writeError(w, statusFor(err), 0, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIsolate(w http.ResponseWriter, r *http.Request) {
	var req isolateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, 0, fmt.Errorf("invalid request body: %w", err))
		return
	}
	isolated, err := s.deps.Orchestrator.Isolate(r.Context(), req.Interface)
	if err != nil {
		writeError(w, statusFor(err), 0, err)
		return
	}
	writeJSON(w, http.StatusOK, isolateResponse{Isolated: isolated})
}

// handleSelectDomains loads the domain list shown on the DNS surface.
func (s *Server) handleSelectDomains(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, 0, fmt.Errorf("invalid request body: %w", err))
		return
	}
	id, err := s.deps.Orchestrator.RequestDomains(r.Context(), req.StartMs, req.EndMs)
	if err != nil {
		writeError(w, statusFor(err), 0, err)
		return
	}
	writeJSON(w, http.StatusAccepted, requestIDResponse{ID: id})
}

// handleSelectDomain loads the per-record details of one domain onto the DNS surface.
func (s *Server) handleSelectDomain(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, 0, fmt.Errorf("invalid request body: %w", err))
		return
	}
	id, err := s.deps.Orchestrator.RequestDomainDetails(r.Context(), mux.Vars(r)["domain"], req.StartMs, req.EndMs)
	if err != nil {
		writeError(w, statusFor(err), 0, err)
		return
	}
	writeJSON(w, http.StatusAccepted, requestIDResponse{ID: id})
}

func (s *Server) handleProducer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["producer"]

	ctl := s.deps.Sampler
	if name == "capture" {
		ctl = s.deps.Capture
	}
	if ctl == nil {
		writeError(w, http.StatusServiceUnavailable, 0, fmt.Errorf("%s is not configured", name))
		return
	}

	if vars["action"] == "start" {
		if err := ctl.Start(); err != nil {
			s.logger.Warn("Failed to start producer.", "producer", name, "err", err)
			writeError(w, http.StatusInternalServerError, 0, err)
			return
		}
	} else {
		ctl.Stop()
	}
	writeJSON(w, http.StatusOK, producerResponse{Producer: name, Running: ctl.Running()})
}

// statusFor maps component errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, correlator.ErrStopped), errors.Is(err, persist.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, correlator.ErrInvalidRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type queryParams struct {
	id      uint64
	startMs int64
	endMs   int64
}

// parseQuery reads the id, start_ms and end_ms parameters every tagged query carries.
func parseQuery(r *http.Request) (queryParams, error) {
	q := r.URL.Query()
	var p queryParams
	var err error

	if raw := q.Get("id"); raw != "" {
		if p.id, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return p, fmt.Errorf("invalid id: %w", err)
		}
	}
	if p.startMs, err = strconv.ParseInt(q.Get("start_ms"), 10, 64); err != nil {
		return p, fmt.Errorf("invalid start_ms: %w", err)
	}
	if p.endMs, err = strconv.ParseInt(q.Get("end_ms"), 10, 64); err != nil {
		return p, fmt.Errorf("invalid end_ms: %w", err)
	}
	if p.endMs < p.startMs {
		return p, errors.New("end_ms precedes start_ms")
	}
	return p, nil
}

// await blocks until the persistence service answers or the request gives up.
func (s *Server) await(r *http.Request, reply <-chan persist.Reply) (persist.Reply, error) {
	timer := time.NewTimer(s.queryTimeout)
	defer timer.Stop()
	select {
	case rep := <-reply:
		return rep, nil
	case <-timer.C:
		return nil, errors.New("query timed out")
	case <-r.Context().Done():
		return nil, r.Context().Err()
	}
}

// runQuery issues one tagged query and writes its reply as JSON.
func (s *Server) runQuery(w http.ResponseWriter, r *http.Request, id uint64, issue func(chan<- persist.Reply) error) {
	reply := make(chan persist.Reply, 1)
	if err := issue(reply); err != nil {
		writeError(w, statusFor(err), id, err)
		return
	}
	rep, err := s.await(r, reply)
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, id, err)
		return
	}
	if err := rep.Error(); err != nil {
		s.logger.Warn("Query failed.", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, id, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	p, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, p.id, err)
		return
	}
	iface := r.URL.Query().Get("interface")
	if iface == "" {
		writeError(w, http.StatusBadRequest, p.id, errors.New("interface is required"))
		return
	}
	s.runQuery(w, r, p.id, func(reply chan<- persist.Reply) error {
		return s.deps.Querier.GetSnapshotsInRange(p.id, iface, p.startMs, p.endMs, reply)
	})
}

func (s *Server) handleQPS(w http.ResponseWriter, r *http.Request) {
	p, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, p.id, err)
		return
	}
	// A non-positive interval is passed through and answers with no buckets.
	interval, err := strconv.Atoi(r.URL.Query().Get("interval_secs"))
	if err != nil {
		writeError(w, http.StatusBadRequest, p.id, fmt.Errorf("invalid interval_secs: %w", err))
		return
	}
	s.runQuery(w, r, p.id, func(reply chan<- persist.Reply) error {
		return s.deps.Querier.GetQPSSeries(p.id, p.startMs, p.endMs, interval, reply)
	})
}

func (s *Server) handleTopDomains(w http.ResponseWriter, r *http.Request) {
	p, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, p.id, err)
		return
	}
	limit := s.topDomains
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, p.id, errors.New("limit must be a positive integer"))
			return
		}
	}
	s.runQuery(w, r, p.id, func(reply chan<- persist.Reply) error {
		return s.deps.Querier.GetTopDomains(p.id, p.startMs, p.endMs, limit, reply)
	})
}

func (s *Server) handleAllDomains(w http.ResponseWriter, r *http.Request) {
	p, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, p.id, err)
		return
	}
	s.runQuery(w, r, p.id, func(reply chan<- persist.Reply) error {
		return s.deps.Querier.GetAllDomains(p.id, p.startMs, p.endMs, reply)
	})
}

func (s *Server) handleDomainDetails(w http.ResponseWriter, r *http.Request) {
	p, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, p.id, err)
		return
	}
	domain := mux.Vars(r)["domain"]
	s.runQuery(w, r, p.id, func(reply chan<- persist.Reply) error {
		return s.deps.Querier.GetDomainDetails(p.id, domain, p.startMs, p.endMs, reply)
	})
}
