package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"mercator-hq/tracekit/pkg/telemetry/tracing"
	"mercator-hq/tracekit/pkg/telemetry/tracing/scope"
	"mercator-hq/tracekit/pkg/telemetry/tracing/span"
)

// UserHeader identifies the caller of the demo routes.
const UserHeader = "X-User-ID"

type helloResponse struct {
	Message string `json:"message"`
	TraceID string `json:"trace_id"`
	Sampled bool   `json:"sampled"`
}

func (s *server) handleHello(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if id := r.Header.Get(UserHeader); id != "" {
		tracing.SetUser(ctx, scope.User{ID: id})
	}

	_, sp := tracing.StartSpan(ctx, "function", "render greeting")
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "world"
	}
	sp.SetData("greeting.name", name)
	sp.Finish()

	s.aggregator.Incr(ctx, "demo.hello", 1, map[string]string{"route": "/hello"})

	respondJSON(w, http.StatusOK, helloResponse{
		Message: "hello, " + name,
		TraceID: tracing.TraceID(ctx),
		Sampled: tracing.IsSampled(ctx),
	})
}

type downstreamResponse struct {
	TraceID    string            `json:"trace_id"`
	Downstream map[string]string `json:"downstream"`
}

func (s *server) handleDownstream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.selfURL+"/debug/propagation", nil)
	if err != nil {
		s.fail(w, r, fmt.Errorf("failed to build downstream request: %w", err))
		return
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.fail(w, r, fmt.Errorf("downstream request failed: %w", err))
		return
	}
	defer resp.Body.Close()

	var info map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		s.fail(w, r, fmt.Errorf("failed to decode downstream response: %w", err))
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	s.aggregator.Timing(ctx, "demo.downstream", time.Since(start), map[string]string{
		"status": string(span.StatusFromHTTP(resp.StatusCode)),
	})

	respondJSON(w, http.StatusOK, downstreamResponse{
		TraceID:    tracing.TraceID(ctx),
		Downstream: info,
	})
}

func (s *server) handleFail(w http.ResponseWriter, r *http.Request) {
	err := errors.Join(
		errors.New("payment declined"),
		fmt.Errorf("rollback: %w", errors.New("connection reset")),
	)
	s.fail(w, r, err)
}

func (s *server) handlePropagation(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, tracing.PropagationDebugInfo(r.Header))
}

type errorResponse struct {
	Error   string `json:"error"`
	EventID string `json:"event_id,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// fail captures err as a handled error event and answers 500.
func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	eventID := s.tracer.CaptureException(ctx, err, tracing.WithMechanism("demo", true))

	respondJSON(w, http.StatusInternalServerError, errorResponse{
		Error:   err.Error(),
		EventID: eventID,
		TraceID: tracing.TraceID(ctx),
	})
}

func respondJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
