// Package dashboard serves the read-only HTTP surface over the ledger state.
// It presents whatever the updater has reconciled so far: stale or partial
// data renders normally while update cycles are in flight.
package dashboard

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/cryptobigbro/ledgerd/internal/domain"
	"github.com/cryptobigbro/ledgerd/internal/storage/journal"
	"github.com/cryptobigbro/ledgerd/internal/updater"
)

type ledgerReader interface {
	Accounts() []*domain.Account
	HistoryOf(accountID string) []*domain.LedgerEvent
	TransfersFor(accountID string) []*domain.Transfer
	Orders() map[string]*domain.Order
	ActivityAfter(index uint64) ([]journal.Entry, error)
	AverageUnitCost(currency string) decimal.Decimal
	RealizedPnL(currency string) decimal.Decimal
	TotalDeposits() decimal.Decimal
	TotalWithdrawals() decimal.Decimal
	Valuations(ctx context.Context) ([]updater.AccountValuation, error)
	RefreshAccount(ctx context.Context, accountID string) error
}

// Server exposes the JSON API consumed by the web UI.
type Server struct {
	Addr   string
	Ledger ledgerReader
	l      *zap.Logger
}

// NewServer creates a dashboard server over the given reader.
func NewServer(addr string, reader ledgerReader, l *zap.Logger) *Server {
	return &Server{Addr: addr, Ledger: reader, l: l}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/accounts", s.handleAccounts)
	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/accounts/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /api/accounts/{id}/transfers", s.handleTransfers)
	mux.HandleFunc("GET /api/orders", s.handleOrders)
	mux.HandleFunc("GET /api/activity", s.handleActivity)

	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.l.Info("Dashboard listening", zap.String("addr", s.Addr))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// StartWithAutoTLS runs an HTTPS server with automatic certificates via ACME,
// plus an HTTP server on port 80 for the HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("ACME server shutdown error", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("HTTPS server shutdown error", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("ACME server error", zap.Error(err))
		}
	}()

	s.l.Info("Dashboard listening with automatic TLS",
		zap.String("addr", s.Addr),
		zap.Strings("domains", domains))

	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// handleAccounts lists every non-empty account with its fiat value and share
// of the portfolio total.
func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	valuations, err := s.Ledger.Valuations(r.Context())
	if err != nil {
		s.l.Warn("Failed to price accounts, serving unvalued list", zap.Error(err))
		s.writeJSON(w, map[string]any{"accounts": s.Ledger.Accounts()})
		return
	}

	s.writeJSON(w, map[string]any{"accounts": valuations})
}

type currencySummary struct {
	Currency        string          `json:"currency"`
	AverageUnitCost decimal.Decimal `json:"average_unit_cost"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	accounts := s.Ledger.Accounts()

	currencies := make([]currencySummary, 0, len(accounts))
	for _, account := range accounts {
		currencies = append(currencies, currencySummary{
			Currency:        account.Currency,
			AverageUnitCost: s.Ledger.AverageUnitCost(account.Currency),
			RealizedPnL:     s.Ledger.RealizedPnL(account.Currency),
		})
	}

	s.writeJSON(w, map[string]any{
		"currencies":        currencies,
		"total_deposits":    s.Ledger.TotalDeposits(),
		"total_withdrawals": s.Ledger.TotalWithdrawals(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")

	if r.URL.Query().Get("refresh") == "1" {
		// serve whatever is known if the refresh fails; stale beats broken
		if err := s.Ledger.RefreshAccount(r.Context(), accountID); err != nil {
			s.l.Warn("Foreground refresh failed",
				zap.String("account_id", accountID),
				zap.Error(err))
		}
	}

	s.writeJSON(w, map[string]any{
		"account_id": accountID,
		"history":    s.Ledger.HistoryOf(accountID),
	})
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	s.writeJSON(w, map[string]any{
		"account_id": accountID,
		"transfers":  s.Ledger.TransfersFor(accountID),
	})
}

func (s *Server) handleOrders(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{"orders": s.Ledger.Orders()})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	after := uint64(0)
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid after index", http.StatusBadRequest)
			return
		}
		after = parsed
	}

	entries, err := s.Ledger.ActivityAfter(after)
	if err != nil {
		http.Error(w, "activity feed unavailable", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, map[string]any{"activity": entries})
}

func (s *Server) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.l.Error("Failed to encode response", zap.Error(err))
	}
}
