// Package server exposes read access to accounts and prices, plus strategy
// updates, over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/paperfleet/paperfleet/internal/ledger"
	"github.com/paperfleet/paperfleet/internal/logger"
	"github.com/paperfleet/paperfleet/internal/market"
	"github.com/paperfleet/paperfleet/internal/types"
	"github.com/paperfleet/paperfleet/pkg/errors"
)

type Server struct {
	ledger   *ledger.Ledger
	resolver market.PriceResolver
	log      *logger.Logger
	srv      *http.Server
}

func New(addr string, lg *ledger.Ledger, resolver market.PriceResolver, log *logger.Logger) *Server {
	s := &Server{
		ledger:   lg,
		resolver: resolver,
		log:      log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{name}", s.handleAccountReport).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{name}/balance", s.handleBalance).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{name}/holdings", s.handleHoldings).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{name}/strategy", s.handleChangeStrategy).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{name}/buying-power", s.handleBuyingPower).Methods(http.MethodGet).Queries("symbol", "{symbol}")
	r.HandleFunc("/accounts/{name}/logs", s.handleLogs).Methods(http.MethodGet)
	r.HandleFunc("/prices/{symbol}", s.handlePrice).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the routing for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", zap.String("addr", s.srv.Addr))

	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAccountReport(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	report, err := s.ledger.Report(r.Context(), name, optional.None[time.Time]())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	balance, err := s.ledger.GetBalance(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"name": types.Key(name), "balance": balance})
}

func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	holdings, err := s.ledger.GetHoldings(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"name": types.Key(name), "holdings": holdings})
}

func (s *Server) handleChangeStrategy(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var body struct {
		Strategy string `json:"strategy"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid request body", err))
		return
	}

	if err := s.ledger.ChangeStrategy(r.Context(), name, body.Strategy); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"name": types.Key(name), "strategy": body.Strategy})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	limit := uint64(50)
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, errors.Wrapf(errors.ErrCodeInvalidAmount, err, "invalid log count %q", raw))
			return
		}

		limit = parsed
	}

	logs, err := s.ledger.RecentActivity(r.Context(), name, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"name": types.Key(name), "logs": logs})
}

func (s *Server) handleBuyingPower(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	qty, err := s.ledger.BuyingPower(r.Context(), vars["name"], vars["symbol"], optional.None[time.Time]())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"name":         types.Key(vars["name"]),
		"symbol":       vars["symbol"],
		"max_quantity": qty,
	})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	date := optional.None[time.Time]()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(types.DateLayout, raw)
		if err != nil {
			s.writeError(w, errors.Wrapf(errors.ErrCodeInvalidDate, err, "invalid date %q", raw))
			return
		}

		date = optional.Some(parsed)
	}

	price := s.resolver.Resolve(r.Context(), symbol, date)

	s.writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "price": price})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidAmount, errors.ErrCodeInvalidQuantity,
		errors.ErrCodeInvalidDate, errors.ErrCodeInvalidConfiguration:
		status = http.StatusBadRequest
	case errors.ErrCodeInsufficientFunds, errors.ErrCodeInsufficientHoldings:
		status = http.StatusUnprocessableEntity
	case errors.ErrCodeUnknownSymbol:
		status = http.StatusNotFound
	}

	s.writeJSON(w, status, map[string]any{
		"error": err.Error(),
		"code":  errors.GetCode(err),
	})
}
