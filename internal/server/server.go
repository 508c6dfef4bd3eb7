package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"stabilizer/internal/core"
	"stabilizer/internal/ingestion"
	"stabilizer/internal/observability"
	"stabilizer/internal/query"
	"stabilizer/internal/vault"
)

// Server hosts the gRPC endpoint (standard health service plus reflection)
// and the HTTP/JSON operational API on a gRPC-Gateway mux.
type Server struct {
	grpcServer *grpc.Server
	httpServer *http.Server
	grpcAddr   string
	httpAddr   string

	engine  *core.Engine
	queries *query.Service
	healthz *observability.HealthChecker
	metrics *observability.Metrics

	healthSrv *health.Server
	log       zerolog.Logger
}

// Deps holds the server's collaborators.
type Deps struct {
	Engine        *core.Engine
	QueryService  *query.Service
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
}

func New(grpcAddr, httpAddr string, deps Deps) *Server {
	grpcServer := grpc.NewServer()

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui.
	reflection.Register(grpcServer)

	return &Server{
		grpcServer: grpcServer,
		grpcAddr:   grpcAddr,
		httpAddr:   httpAddr,
		engine:     deps.Engine,
		queries:    deps.QueryService,
		healthz:    deps.HealthChecker,
		metrics:    deps.Metrics,
		healthSrv:  healthSrv,
		log:        observability.NewLogger("server"),
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the HTTP/JSON API (blocking).
func (s *Server) StartHTTP(ctx context.Context) error {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/vaults", s.handleListVaults},
		{http.MethodGet, "/v1/vaults/{id}", s.handleGetVault},
		{http.MethodGet, "/v1/vaults/{id}/events", s.handleVaultEvents},
		{http.MethodPost, "/v1/vaults", s.handleCreateVault},
		{http.MethodPost, "/v1/vaults/{id}/{op}", s.handleOperation},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if s.healthz != nil {
		httpMux.HandleFunc("/healthz", s.healthz.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthz.ReadinessHandler)
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("HTTP API listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// === Handlers ===

func (s *Server) observeQuery(endpoint string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueryRequests.WithLabelValues(endpoint).Inc()
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (s *Server) handleListVaults(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	defer s.observeQuery("list_vaults", time.Now())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"vaults": s.queries.ListVaults(),
	})
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	defer s.observeQuery("get_vault", time.Now())
	id, err := uuid.Parse(pathParams["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid vault id: %w", err))
		return
	}
	view, err := s.queries.GetVault(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleVaultEvents(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	defer s.observeQuery("vault_events", time.Now())
	id, err := uuid.Parse(pathParams["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid vault id: %w", err))
		return
	}
	events, err := s.queries.VaultEvents(r.Context(), id, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *Server) handleCreateVault(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	cmd, ok := s.readCommand(w, r)
	if !ok {
		return
	}
	cmd.Op = core.OpCreateVault
	s.apply(w, cmd)
}

// handleOperation dispatches POST /v1/vaults/{id}/{op}. The body carries the
// same JSON wire format as the NATS command subjects; the path wins on
// vault_id and op.
func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	id, err := uuid.Parse(pathParams["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid vault id: %w", err))
		return
	}
	op, ok := pathOps[pathParams["op"]]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown operation: %q", pathParams["op"]))
		return
	}

	cmd, okBody := s.readCommand(w, r)
	if !okBody {
		return
	}
	cmd.VaultID = id
	cmd.Op = op
	s.apply(w, cmd)
}

var pathOps = map[string]core.Op{
	"configure":   core.OpConfigure,
	"propose":     core.OpPropose,
	"reject":      core.OpReject,
	"freeze":      core.OpSetFrozen,
	"setborrower": core.OpSetBorrower,
	"borrow":      core.OpBorrow,
	"repay":       core.OpRepay,
	"payfee":      core.OpPayFee,
	"invest":      core.OpInvest,
	"divest":      core.OpDivest,
	"collect":     core.OpCollect,
	"buy":         core.OpBuy,
	"sell":        core.OpSell,
	"buysweep":    core.OpBuySweep,
	"sellsweep":   core.OpSellSweep,
	"withdraw":    core.OpWithdraw,
	"margincall":  core.OpMarginCall,
	"liquidate":   core.OpLiquidate,
}

func (s *Server) readCommand(w http.ResponseWriter, r *http.Request) (core.Command, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return core.Command{}, false
	}
	if len(body) == 0 {
		// Parameterless operations (propose, payfee, liquidate, ...) may
		// post an empty body; the path supplies vault and op.
		return core.Command{}, true
	}
	cmd, err := ingestion.ParseCommand(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return core.Command{}, false
	}
	return cmd, true
}

func (s *Server) apply(w http.ResponseWriter, cmd core.Command) {
	evt, err := s.engine.Apply(cmd)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if evt == nil {
		// Duplicate idempotency key: already applied.
		writeJSON(w, http.StatusOK, map[string]interface{}{"duplicate": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_type": evt.Type().String(),
		"vault_id":   evt.Vault(),
		"event":      evt,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, vault.ErrNotBorrower),
		errors.Is(err, vault.ErrNotBalancer),
		errors.Is(err, vault.ErrNotAdmin):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrFrozen),
		errors.Is(err, vault.ErrSettingsDisabled),
		errors.Is(err, vault.ErrSettingsEnabled),
		errors.Is(err, vault.ErrNotLiquidatable),
		errors.Is(err, vault.ErrNotDefaulted):
		return http.StatusConflict
	case errors.Is(err, vault.ErrZeroAmount),
		errors.Is(err, vault.ErrZeroAddress),
		errors.Is(err, vault.ErrNilAsset),
		errors.Is(err, vault.ErrInvalidToken):
		return http.StatusBadRequest
	case errors.Is(err, vault.ErrEquityRatioExceeded),
		errors.Is(err, vault.ErrInvalidMinter),
		errors.Is(err, vault.ErrNotEnoughBalance),
		errors.Is(err, vault.ErrSpreadNotEnough),
		errors.Is(err, vault.ErrNotEnoughAssets):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrVaultNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}
