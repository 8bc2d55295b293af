package server

import (
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"omnibridge/amb"
	"omnibridge/native/mediator"
	"omnibridge/services/mediatord/index"
	"omnibridge/services/mediatord/stream"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Home      *mediator.Mediator
	Foreign   *mediator.Mediator
	Bus       *amb.Bus
	Relayer   *amb.Relayer
	Index     *index.Index
	Stream    *stream.Hub
	Auth      AuthConfig
	RateLimit RateLimit
	Logger    *slog.Logger
}

// Server exposes the query and admin API of both mediators.
type Server struct {
	home    *mediator.Mediator
	foreign *mediator.Mediator
	bus     *amb.Bus
	relayer *amb.Relayer
	index   *index.Index
	stream  *stream.Hub
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger

	router http.Handler
}

// New constructs the HTTP router.
func New(cfg Config) (*Server, error) {
	if cfg.Home == nil || cfg.Foreign == nil {
		return nil, fmt.Errorf("server: both mediators are required")
	}
	if cfg.Bus == nil || cfg.Relayer == nil {
		return nil, fmt.Errorf("server: bus and relayer are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")
	srv := &Server{
		home:    cfg.Home,
		foreign: cfg.Foreign,
		bus:     cfg.Bus,
		relayer: cfg.Relayer,
		index:   cfg.Index,
		stream:  cfg.Stream,
		auth:    NewAuthenticator(cfg.Auth, logger),
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(instrument)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.limiter.Middleware("v1"))

		api.Get("/relayer", s.relayerStatus)
		api.Get("/events/stream", s.streamEvents)
		api.Get("/messages", s.listMessages)
		api.Get("/messages/{id}", s.getMessage)
		api.Post("/messages/{id}/relay", s.relayMessage)

		api.Route("/{side}", func(side chi.Router) {
			side.Get("/status", s.sideStatus)
			side.Get("/limits", s.getLimits)
			side.Get("/tokens", s.listTokens)
			side.Get("/tokens/{token}", s.getToken)
			side.Get("/fees", s.getFees)
			side.Get("/lanes", s.getLane)
			side.Get("/gas", s.getGasLimit)
			side.Post("/fixes", s.requestFix)

			side.Group(func(admin chi.Router) {
				admin.Use(s.auth.Middleware(ScopeAdmin))
				admin.Put("/limits", s.setLimit)
				admin.Put("/fees", s.setFee)
				admin.Post("/reward-addresses", s.addRewardAddress)
				admin.Delete("/reward-addresses/{address}", s.removeRewardAddress)
				admin.Put("/gas", s.setGasLimit)
				admin.Put("/forwarding", s.setForwardingRule)
				admin.Post("/claims", s.claimTokens)
				admin.Post("/balance-fixes", s.fixMediatorBalance)
				admin.Put("/owner", s.transferOwnership)
			})
		})

		api.Group(func(admin chi.Router) {
			admin.Use(s.auth.Middleware(ScopeAdmin))
			admin.Post("/relayer/pause", s.pauseRelayer)
			admin.Post("/relayer/resume", s.resumeRelayer)
		})
	})
	return r
}

// requestID seeds the chi request id with a uuid unless the client sent one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(chimw.RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(chimw.RequestIDHeader, id)
		}
		w.Header().Set(chimw.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) mediatorFor(r *http.Request) (*mediator.Mediator, error) {
	side, err := mediator.ParseSide(chi.URLParam(r, "side"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if side == mediator.Home {
		return s.home, nil
	}
	return s.foreign, nil
}

func parseAddress(field, raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%w: %s must be an address", errBadRequest, field)
	}
	return common.HexToAddress(trimmed), nil
}

func parseOptionalAddress(field, raw string) (common.Address, bool, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, false, nil
	}
	addr, err := parseAddress(field, raw)
	return addr, err == nil, err
}

func parseHash(field, raw string) (common.Hash, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if len(trimmed) != 2*common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %s must be a 32-byte hex value", errBadRequest, field)
	}
	return common.HexToHash(trimmed), nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, field)
	}
	return value, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
