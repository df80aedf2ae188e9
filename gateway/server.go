package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendvault/native/bank"
	"lendvault/native/collateral"
	nativecommon "lendvault/native/common"
	"lendvault/native/lending"
	"lendvault/observability"
)

// requestLimit bounds request bodies accepted by the JSON handlers.
const requestLimit = 1 << 20 // 1 MiB

const requestIDHeader = "X-Request-Id"

// Server exposes the lending and collateral modules over HTTP.
type Server struct {
	engine     *lending.Engine
	collateral *collateral.Module
	logger     *slog.Logger
	metrics    *observability.LendingMetrics
}

// NewServer wires the HTTP surface. A nil logger falls back to the default
// slog logger.
func NewServer(engine *lending.Engine, col *collateral.Module, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:     engine,
		collateral: col,
		logger:     logger,
		metrics:    observability.Lending(),
	}
}

// Router assembles the chi router with all routes and middleware mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/v1/lending", func(r chi.Router) {
		r.Post("/borrow", s.borrow)
		r.Post("/repay", s.repay)
		r.Get("/positions/{address}", s.position)
		r.Get("/debts/{token}/{address}", s.tokenDebt)
		r.Get("/fees/pool", s.feePool)
		r.Post("/fees/withdraw", s.withdrawFees)
	})
	if s.collateral != nil {
		r.Route("/v1/collateral", func(r chi.Router) {
			r.Post("/deposit", s.deposit)
			r.Post("/withdraw", s.withdraw)
			r.Get("/deposits/{address}", s.deposits)
		})
	}
	return r
}

// requestID stamps every response with a unique identifier so operations
// can be correlated across logs and clients.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), errorResponse{Error: err.Error()})
}

// statusForError maps module sentinels to HTTP status codes. Validation
// failures are client errors, business-rule rejections are 422s, and
// oracle or pause conditions surface as 503 so callers know to retry
// later.
func statusForError(err error) int {
	switch {
	case errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, lending.ErrUnsupportedToken),
		errors.Is(err, collateral.ErrInvalidAmount),
		errors.Is(err, bank.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, lending.ErrNoCollateral),
		errors.Is(err, lending.ErrInsufficientCollateral),
		errors.Is(err, lending.ErrInsufficientDebt),
		errors.Is(err, lending.ErrOverflow),
		errors.Is(err, lending.ErrUnderflow),
		errors.Is(err, lending.ErrTransferFailed),
		errors.Is(err, collateral.ErrInsufficientDeposit),
		errors.Is(err, collateral.ErrHealthCheckFailed),
		errors.Is(err, bank.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lending.ErrAccountBusy):
		return http.StatusConflict
	case errors.Is(err, lending.ErrNoPriceAvailable),
		errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
