// Package web exposes the HTTP surface: deposit and withdrawal
// endpoints for clients and the PSP settlement webhook.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/defybank/rails/internal"
	"github.com/defybank/rails/internal/domain"
	"github.com/defybank/rails/internal/services/psp"
	"github.com/defybank/rails/internal/storage/providertx"
)

const maxBodyBytes = 1 << 20

// Server exposes the orchestration flows over HTTP.
type Server struct {
	Addr    string
	PSPName string

	orch   *internal.Orchestrator
	ledger *providertx.Store
	logger *zap.Logger
}

// NewServer creates the HTTP server over the orchestrator and ledger.
func NewServer(addr, pspName string, orch *internal.Orchestrator, ledger *providertx.Store, logger *zap.Logger) *Server {
	return &Server{Addr: addr, PSPName: pspName, orch: orch, ledger: ledger, logger: logger}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /deposits", s.handleCreateDeposit)
	mux.HandleFunc("POST /withdrawals", s.handleWithdraw)
	mux.HandleFunc("POST /webhooks/pix", s.handlePixWebhook)
	mux.HandleFunc("GET /transactions", s.handleListTransactions)

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type createDepositRequest struct {
	UserID      string `json:"user_id"`
	AmountMinor string `json:"amount_minor"`
}

type createDepositResponse struct {
	TxID      string `json:"txid"`
	QRCode    string `json:"qr_code,omitempty"`
	CopyPaste string `json:"copy_paste,omitempty"`
}

func (s *Server) handleCreateDeposit(w http.ResponseWriter, r *http.Request) {
	var req createDepositRequest
	if !s.decode(w, r, &req) {
		return
	}

	amount, ok := parseMinor(req.AmountMinor)
	if !ok {
		s.fail(w, http.StatusBadRequest, errors.New("amount_minor must be a decimal integer"))
		return
	}

	intent, err := s.orch.CreateDeposit(r.Context(), req.UserID, amount)
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}

	s.respond(w, http.StatusCreated, createDepositResponse{
		TxID:      intent.TxID,
		QRCode:    intent.Charge.QRCode,
		CopyPaste: intent.Charge.CopyPaste,
	})
}

type withdrawRequest struct {
	UserID string `json:"user_id"`
	Shares string `json:"shares"`
	PixKey string `json:"pix_key"`
}

type withdrawResponse struct {
	TxID           string `json:"txid"`
	PaidQuoteMinor string `json:"paid_quote_minor"`
	EndToEndID     string `json:"end_to_end_id,omitempty"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !s.decode(w, r, &req) {
		return
	}

	shares, ok := parseMinor(req.Shares)
	if !ok {
		s.fail(w, http.StatusBadRequest, errors.New("shares must be a decimal integer"))
		return
	}

	receipt, err := s.orch.Withdraw(r.Context(), req.UserID, shares, req.PixKey)
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}

	s.respond(w, http.StatusOK, withdrawResponse{
		TxID:           receipt.TxID,
		PaidQuoteMinor: receipt.PaidQuoteMinor.String(),
		EndToEndID:     receipt.EndToEndID,
	})
}

// handlePixWebhook accepts settlement notifications. Replays answer 200
// so the PSP stops redelivering; genuinely unknown charges answer 404.
func (s *Server) handlePixWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	evt, err := psp.ParseWebhook(s.PSPName, body)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	if err := s.orch.HandlePixPaid(r.Context(), evt); err != nil {
		s.logger.Error("webhook settlement failed", zap.String("txid", evt.TxID), zap.Error(err))
		if s.ledger.Get(s.PSPName, evt.TxID) == nil {
			s.fail(w, http.StatusNotFound, err)
			return
		}
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.ledger.List(s.PSPName))
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(out); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrUnknownSymbol):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrLedgerConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTransientNetwork),
		errors.Is(err, domain.ErrBackendUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func parseMinor(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	v, ok := new(big.Int).SetString(s, 10)
	return v, ok
}
