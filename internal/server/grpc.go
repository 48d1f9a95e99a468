// Package server exposes the read API and the HTTP instruction intake. gRPC
// carries health checking and reflection; the JSON routes are served through
// a grpc-gateway mux so both surfaces share one address layout.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"margincore/internal/ingestion"
	"margincore/internal/instruction"
	"margincore/internal/observability"
	"margincore/internal/query"
	"margincore/internal/state"
)

// Deps holds everything the servers need.
type Deps struct {
	Query         *query.Service
	SubmitChan    chan<- ingestion.RawMessage
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Log           zerolog.Logger
}

// Server runs the gRPC endpoint and the HTTP/JSON endpoint.
type Server struct {
	grpcServer *grpc.Server
	httpServer *http.Server
	grpcAddr   string
	httpAddr   string
	deps       *Deps
	log        zerolog.Logger
}

func New(grpcAddr, httpAddr string, deps *Deps) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui.
	reflection.Register(grpcServer)

	return &Server{
		grpcServer: grpcServer,
		grpcAddr:   grpcAddr,
		httpAddr:   httpAddr,
		deps:       deps,
		log:        deps.Log,
	}
}

// StartGRPC serves the gRPC endpoint until ctx is cancelled.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("grpc server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("grpc server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP serves the JSON API, probes and metrics until ctx is cancelled.
func (s *Server) StartHTTP(ctx context.Context) error {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/accounts/{account_id}/balances", s.handleBalances},
		{http.MethodGet, "/v1/accounts/{account_id}/health", s.handleHealth},
		{http.MethodGet, "/v1/banks/{token_index}", s.handleBank},
		{http.MethodGet, "/v1/prices/{token_index}", s.handlePrice},
		{http.MethodPost, "/v1/instructions", s.handleSubmit},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/healthz", s.deps.HealthChecker.LivenessHandler)
	httpMux.HandleFunc("/readyz", s.deps.HealthChecker.ReadinessHandler)
	httpMux.Handle("/metrics", promhttp.Handler())
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           httpMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	s.instrument("balances", w, r, func(ctx context.Context) (any, error) {
		accountID, err := uuid.Parse(pathParams["account_id"])
		if err != nil {
			return nil, badRequest("invalid account_id: %v", err)
		}
		return s.deps.Query.GetAccountBalances(ctx, accountID)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	s.instrument("health", w, r, func(ctx context.Context) (any, error) {
		accountID, err := uuid.Parse(pathParams["account_id"])
		if err != nil {
			return nil, badRequest("invalid account_id: %v", err)
		}
		ht := state.HealthTypeMaint
		switch r.URL.Query().Get("type") {
		case "", "maint":
		case "init":
			ht = state.HealthTypeInit
		default:
			return nil, badRequest("type must be init or maint")
		}
		return s.deps.Query.GetAccountHealth(ctx, accountID, ht)
	})
}

func (s *Server) handleBank(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	s.instrument("bank", w, r, func(ctx context.Context) (any, error) {
		token, err := parseTokenIndex(pathParams["token_index"])
		if err != nil {
			return nil, err
		}
		return s.deps.Query.GetBank(ctx, token)
	})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	s.instrument("price", w, r, func(ctx context.Context) (any, error) {
		token, err := parseTokenIndex(pathParams["token_index"])
		if err != nil {
			return nil, err
		}
		return s.deps.Query.GetPrice(ctx, token)
	})
}

// handleSubmit accepts an instruction envelope and queues it on the same
// channel NATS messages arrive on, so ordering and idempotency rules apply
// identically. The response only means "accepted for processing".
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.instrument("submit", w, r, func(ctx context.Context) (any, error) {
		var env struct {
			Kind    string          `json:"kind"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			return nil, badRequest("invalid envelope: %v", err)
		}

		// Reject malformed payloads here rather than poisoning the pump.
		ins, err := instruction.DecodeKind(env.Kind, env.Payload)
		if err != nil {
			return nil, badRequest("invalid instruction: %v", err)
		}

		raw := ingestion.RawMessage{
			Subject:    "http",
			Kind:       env.Kind,
			Data:       env.Payload,
			ReceivedAt: time.Now(),
			Ack:        func() {},
			Nak:        func() {},
			Term:       func() {},
		}
		select {
		case s.deps.SubmitChan <- raw:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return map[string]any{
			"accepted":        true,
			"kind":            env.Kind,
			"idempotency_key": ins.IdempotencyKey(),
		}, nil
	})
}

type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &httpError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func parseTokenIndex(s string) (state.TokenIndex, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, badRequest("invalid token_index: %v", err)
	}
	return state.TokenIndex(v), nil
}

func (s *Server) instrument(endpoint string, w http.ResponseWriter, r *http.Request, fn func(ctx context.Context) (any, error)) {
	start := time.Now()
	resp, err := fn(r.Context())

	status := "ok"
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, query.ErrNotFound):
		status = "not_found"
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		var he *httpError
		if errors.As(err, &he) {
			status = "bad_request"
			writeJSON(w, he.status, map[string]string{"error": he.msg})
		} else {
			status = "error"
			s.log.Error().Str("endpoint", endpoint).Err(err).Msg("query failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
		s.deps.Metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
