package gateway

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"lendvault/crypto"
)

type operationRequest struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

func (r operationRequest) parse() (crypto.Address, string, *big.Int, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(r.Account))
	if err != nil {
		return crypto.Address{}, "", nil, fmt.Errorf("invalid account: %w", err)
	}
	token := strings.TrimSpace(r.Token)
	if token == "" {
		return crypto.Address{}, "", nil, fmt.Errorf("token required")
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(r.Amount), 10)
	if !ok {
		return crypto.Address{}, "", nil, fmt.Errorf("invalid amount %q", r.Amount)
	}
	return addr, token, amount, nil
}

func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer func() { _ = r.Body.Close() }()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, requestLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("decode request: %v", err)})
		return false
	}
	return true
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	addr, token, amount, err := req.parse()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	start := time.Now()
	fee, err := s.engine.Borrow(addr, token, amount)
	s.metrics.Observe("borrow", err, time.Since(start))
	if err != nil {
		s.logger.Warn("borrow rejected", "account", req.Account, "token", token, "err", err)
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"fee": fee.String(),
	})
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	addr, token, amount, err := req.parse()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	start := time.Now()
	err = s.engine.Repay(addr, token, amount)
	s.metrics.Observe("repay", err, time.Since(start))
	if err != nil {
		s.logger.Warn("repay rejected", "account", req.Account, "token", token, "err", err)
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type positionResponse struct {
	Address            string            `json:"address"`
	CollateralValue    string            `json:"collateralValue"`
	DebtValue          string            `json:"debtValue"`
	DebtByToken        map[string]string `json:"debtByToken"`
	EnrolledDebtTokens []string          `json:"enrolledDebtTokens"`
}

func (s *Server) position(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid address: %v", err)})
		return
	}
	pos, err := s.engine.Position(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	debts := make(map[string]string, len(pos.DebtByToken))
	for token, amount := range pos.DebtByToken {
		debts[token] = amount.String()
	}
	writeJSON(w, http.StatusOK, positionResponse{
		Address:            pos.Address.String(),
		CollateralValue:    pos.CollateralValue.String(),
		DebtValue:          pos.DebtValue.String(),
		DebtByToken:        debts,
		EnrolledDebtTokens: pos.EnrolledDebtTokens,
	})
}

func (s *Server) tokenDebt(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid address: %v", err)})
		return
	}
	token := strings.TrimSpace(chi.URLParam(r, "token"))
	if token == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "token required"})
		return
	}
	outstanding, err := s.engine.TokenDebt(token, addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":   strings.ToUpper(token),
		"account": addr.String(),
		"debt":    outstanding.String(),
	})
}

type feeWithdrawRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

func (s *Server) withdrawFees(w http.ResponseWriter, r *http.Request) {
	var req feeWithdrawRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	addr, err := crypto.DecodeAddress(strings.TrimSpace(req.Recipient))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid recipient: %v", err)})
		return
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid amount %q", req.Amount)})
		return
	}
	start := time.Now()
	withdrawn, err := s.engine.WithdrawFees(addr, amount)
	s.metrics.Observe("withdraw_fees", err, time.Since(start))
	if err != nil {
		s.logger.Warn("fee withdrawal rejected", "recipient", req.Recipient, "err", err)
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"feeToken":  s.engine.FeeToken(),
		"withdrawn": withdrawn.String(),
	})
}

func (s *Server) feePool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.engine.FeePool()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"feeToken": s.engine.FeeToken(),
		"feePool":  pool.String(),
	})
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	addr, token, amount, err := req.parse()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	start := time.Now()
	err = s.collateral.Deposit(addr, token, amount)
	s.metrics.Observe("deposit", err, time.Since(start))
	if err != nil {
		s.logger.Warn("deposit rejected", "account", req.Account, "token", token, "err", err)
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	addr, token, amount, err := req.parse()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	start := time.Now()
	err = s.collateral.Withdraw(addr, token, amount)
	s.metrics.Observe("withdraw", err, time.Since(start))
	if err != nil {
		s.logger.Warn("withdraw rejected", "account", req.Account, "token", token, "err", err)
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) deposits(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid address: %v", err)})
		return
	}
	deposits, err := s.collateral.Deposits(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	payload := make(map[string]string, len(deposits))
	for token, amount := range deposits {
		payload[token] = amount.String()
	}
	writeJSON(w, http.StatusOK, payload)
}
