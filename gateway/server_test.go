package gateway

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lendvault/crypto"
	"lendvault/native/bank"
	"lendvault/native/collateral"
	"lendvault/native/lending"
	"lendvault/native/oracle"
	"lendvault/storage"
)

type fixture struct {
	server   *httptest.Server
	borrower crypto.Address
}

// newFixture wires the full module stack over in-memory storage: bank
// ledger, manual oracle, lending engine and collateral module behind the
// HTTP gateway. Prices are flat integers so expected values can be written
// out directly.
func newFixture(t *testing.T) *fixture {
	return newFixtureWithFee(t, 0)
}

func newFixtureWithFee(t *testing.T, feeRateBps uint64) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	ledger := bank.NewLedger(db)

	manual := oracle.NewManualOracle()
	now := time.Now()
	manual.Set("X", big.NewInt(2), now)
	manual.Set("ATOM", big.NewInt(1), now)
	manual.Set("LUSD", big.NewInt(1), now)

	cfg := lending.Config{
		FeeToken:              "LUSD",
		NativeToken:           "LVT",
		FeeRateBps:            feeRateBps,
		MinCollateralRatioBps: 15_000,
	}

	poolAddr := treasury(0x01)
	collateralAddr := treasury(0x02)

	engine := lending.NewEngine(cfg)
	engine.SetState(lending.NewLedgerStore(db))
	require.NoError(t, engine.SetPriceSource(manual))
	engine.SetVault(bank.NewPoolVault(ledger, poolAddr))

	col := collateral.NewModule(db)
	col.SetPricer(engine.Valuator())
	col.SetVault(bank.NewPoolVault(ledger, collateralAddr))
	col.SetRiskView(engine)
	col.SetCache(engine)
	engine.SetCollateral(col)

	borrower := account(0x10)
	require.NoError(t, ledger.Mint("X", poolAddr, big.NewInt(100_000)))
	require.NoError(t, ledger.Mint("LUSD", poolAddr, big.NewInt(10_000)))
	require.NoError(t, ledger.Mint("ATOM", borrower, big.NewInt(100_000)))

	srv := httptest.NewServer(NewServer(engine, col, nil).Router())
	t.Cleanup(srv.Close)
	return &fixture{server: srv, borrower: borrower}
}

func treasury(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.TreasuryPrefix, raw)
}

func account(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func (f *fixture) post(t *testing.T, path string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func opPayload(addr crypto.Address, token, amount string) map[string]string {
	return map[string]string{"account": addr.String(), "token": token, "amount": amount}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp := f.get(t, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	var body map[string]string
	decodeBody(t, resp, &body)
	require.Equal(t, "ok", body["status"])
}

func TestBorrowLifecycle(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/collateral/deposit", opPayload(f.borrower, "ATOM", "1000"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.post(t, "/v1/lending/borrow", opPayload(f.borrower, "X", "300"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var borrowBody map[string]string
	decodeBody(t, resp, &borrowBody)
	require.Equal(t, "0", borrowBody["fee"])

	resp = f.get(t, "/v1/lending/positions/"+f.borrower.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pos positionResponse
	decodeBody(t, resp, &pos)
	require.Equal(t, "1000", pos.CollateralValue)
	require.Equal(t, "600", pos.DebtValue)
	require.Equal(t, "300", pos.DebtByToken["X"])

	// Debt value 1000 would require 1500 of collateral.
	resp = f.post(t, "/v1/lending/borrow", opPayload(f.borrower, "X", "200"))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.post(t, "/v1/lending/repay", opPayload(f.borrower, "X", "300"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.get(t, "/v1/lending/positions/"+f.borrower.String())
	decodeBody(t, resp, &pos)
	require.Equal(t, "0", pos.DebtValue)
}

func TestTokenDebtEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/collateral/deposit", opPayload(f.borrower, "ATOM", "1000"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
	resp = f.post(t, "/v1/lending/borrow", opPayload(f.borrower, "X", "300"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.get(t, "/v1/lending/debts/X/"+f.borrower.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	decodeBody(t, resp, &body)
	require.Equal(t, "300", body["debt"])
	require.Equal(t, "X", body["token"])

	// Never-borrowed tokens read as zero.
	resp = f.get(t, "/v1/lending/debts/ATOM/"+f.borrower.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &body)
	require.Equal(t, "0", body["debt"])
}

func TestFeeWithdrawEndpoint(t *testing.T) {
	f := newFixtureWithFee(t, 25)
	collector := account(0x20)

	resp := f.post(t, "/v1/collateral/deposit", opPayload(f.borrower, "ATOM", "40000"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.post(t, "/v1/lending/borrow", opPayload(f.borrower, "X", "10000"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var borrowBody map[string]string
	decodeBody(t, resp, &borrowBody)
	require.Equal(t, "50", borrowBody["fee"])

	resp = f.post(t, "/v1/lending/fees/withdraw", map[string]string{
		"recipient": collector.String(),
		"amount":    "50",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	decodeBody(t, resp, &body)
	require.Equal(t, "50", body["withdrawn"])
	require.Equal(t, "LUSD", body["feeToken"])

	// The pool is drained; further withdrawals underflow.
	resp = f.post(t, "/v1/lending/fees/withdraw", map[string]string{
		"recipient": collector.String(),
		"amount":    "1",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.post(t, "/v1/lending/fees/withdraw", map[string]string{
		"recipient": "bogus",
		"amount":    "1",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestCollateralEndpoints(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/collateral/deposit", opPayload(f.borrower, "ATOM", "600"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.get(t, "/v1/collateral/deposits/"+f.borrower.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var deposits map[string]string
	decodeBody(t, resp, &deposits)
	require.Equal(t, "600", deposits["ATOM"])

	resp = f.post(t, "/v1/collateral/withdraw", opPayload(f.borrower, "ATOM", "700"))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.post(t, "/v1/collateral/withdraw", opPayload(f.borrower, "ATOM", "100"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestFeePoolEndpoint(t *testing.T) {
	f := newFixture(t)
	resp := f.get(t, "/v1/lending/fees/pool")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	decodeBody(t, resp, &body)
	require.Equal(t, "LUSD", body["feeToken"])
	require.Equal(t, "0", body["feePool"])
}

func TestErrorStatusMapping(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/collateral/deposit", opPayload(f.borrower, "ATOM", "1000"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	cases := []struct {
		name    string
		path    string
		payload map[string]string
		status  int
	}{
		{"zero amount", "/v1/lending/borrow", opPayload(f.borrower, "X", "0"), http.StatusBadRequest},
		{"native token", "/v1/lending/borrow", opPayload(f.borrower, "LVT", "10"), http.StatusBadRequest},
		{"no price", "/v1/lending/borrow", opPayload(f.borrower, "ZZZ", "10"), http.StatusServiceUnavailable},
		{"over repay", "/v1/lending/repay", opPayload(f.borrower, "X", "10"), http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.post(t, tc.path, tc.payload)
			defer func() { _ = resp.Body.Close() }()
			require.Equal(t, tc.status, resp.StatusCode)
			var body errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			require.NotEmpty(t, body.Error)
		})
	}
}

func TestMalformedRequestsRejected(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/v1/lending/borrow", map[string]string{
		"account": f.borrower.String(),
		"token":   "X",
		"amount":  "10",
		"extra":   "field",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.post(t, "/v1/lending/borrow", map[string]string{
		"account": "not-an-address",
		"token":   "X",
		"amount":  "10",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.post(t, "/v1/lending/borrow", opPayload(f.borrower, "X", "ten"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	resp = f.get(t, "/v1/lending/positions/bogus")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestRequestIDPropagated(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, "abc-123", resp.Header.Get("X-Request-Id"))
}
