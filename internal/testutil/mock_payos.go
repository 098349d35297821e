package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"recipestore/internal/payos"
)

const (
	MockClientID    = "test-client-id"
	MockAPIKey      = "test-api-key"
	MockChecksumKey = "test-checksum-key"
)

// MockPayOS is an in-process PayOS payment link API.
type MockPayOS struct {
	Server *httptest.Server

	mu    sync.Mutex
	links map[int64]*payos.PaymentLinkInfo

	// Failure simulation. A non-zero FailStatus answers create calls with that
	// HTTP status; FailCode answers them with HTTP 200 and that gateway code.
	FailStatus    int
	FailCode      string
	FailGet       bool
	FailCancel    bool
	BadSignatures bool

	CreateCalls int
	GetCalls    int
	CancelCalls int
	LastRequest payos.PaymentRequest
}

func NewMockPayOS() *MockPayOS {
	m := &MockPayOS{links: make(map[int64]*payos.PaymentLinkInfo)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/payment-requests", m.handleCreate)
	mux.HandleFunc("GET /v2/payment-requests/{code}", m.handleGet)
	mux.HandleFunc("POST /v2/payment-requests/{code}/cancel", m.handleCancel)

	m.Server = httptest.NewServer(mux)
	return m
}

func (m *MockPayOS) Close() {
	m.Server.Close()
}

func (m *MockPayOS) URL() string {
	return m.Server.URL
}

// Client returns a PayOS client for the mock with fast retries.
func (m *MockPayOS) Client() *payos.Client {
	return payos.NewClient(MockClientID, MockAPIKey, MockChecksumKey, m.URL(), payos.WithRetry(3, time.Millisecond))
}

// Reset forgets links, counters and failure modes.
func (m *MockPayOS) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = make(map[int64]*payos.PaymentLinkInfo)
	m.FailStatus, m.FailCode = 0, ""
	m.FailGet, m.FailCancel, m.BadSignatures = false, false, false
	m.CreateCalls, m.GetCalls, m.CancelCalls = 0, 0, 0
}

// Link returns a copy of the link for orderCode.
func (m *MockPayOS) Link(orderCode int64) (payos.PaymentLinkInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[orderCode]
	if !ok {
		return payos.PaymentLinkInfo{}, false
	}
	return *l, true
}

// Last returns the most recent create request.
func (m *MockPayOS) Last() payos.PaymentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastRequest
}

// Calls returns the create, get and cancel call counts.
func (m *MockPayOS) Calls() (create, get, cancel int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CreateCalls, m.GetCalls, m.CancelCalls
}

// SetFailStatus makes create calls answer with an HTTP error status.
func (m *MockPayOS) SetFailStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailStatus = status
}

// SetFailCode makes create calls answer HTTP 200 with a non-success gateway code.
func (m *MockPayOS) SetFailCode(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailCode = code
}

// SetFailGet makes lookups answer with a gateway outage.
func (m *MockPayOS) SetFailGet(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailGet = fail
}

// SetFailCancel makes cancellations answer with a gateway outage.
func (m *MockPayOS) SetFailCancel(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailCancel = fail
}

// MarkPaid records a payment of amount on the link.
func (m *MockPayOS) MarkPaid(orderCode, amount int64, reference string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.ensureLocked(orderCode)
	l.Status = payos.StatusPaid
	l.AmountPaid = amount
	l.AmountRemaining = max(l.Amount-amount, 0)
	l.Transactions = append(l.Transactions, payos.TransactionDetail{
		Reference:           reference,
		Amount:              amount,
		AccountNumber:       "12345678",
		Description:         fmt.Sprintf("PREMIUM %d", orderCode),
		TransactionDateTime: time.Now().Format("2006-01-02 15:04:05"),
	})
}

// SetStatus forces the link status.
func (m *MockPayOS) SetStatus(orderCode int64, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLocked(orderCode).Status = status
}

func (m *MockPayOS) ensureLocked(orderCode int64) *payos.PaymentLinkInfo {
	l, ok := m.links[orderCode]
	if !ok {
		l = &payos.PaymentLinkInfo{
			ID:        fmt.Sprintf("link-%d", orderCode),
			OrderCode: orderCode,
			Status:    payos.StatusPending,
			CreatedAt: time.Now().Format(time.RFC3339),
		}
		m.links[orderCode] = l
	}
	return l
}

func (m *MockPayOS) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(w, r) {
		return
	}

	var req payos.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.reply(w, http.StatusBadRequest, "20", "invalid body", nil)
		return
	}

	m.mu.Lock()
	m.CreateCalls++
	m.LastRequest = req
	failStatus, failCode := m.FailStatus, m.FailCode
	m.mu.Unlock()

	if failStatus != 0 {
		m.reply(w, failStatus, "99", "simulated failure", nil)
		return
	}
	if failCode != "" {
		m.reply(w, http.StatusOK, failCode, "simulated rejection", nil)
		return
	}
	if payos.SignPaymentRequest(MockChecksumKey, req) != req.Signature {
		m.reply(w, http.StatusOK, "20", "Mã kiểm tra(signature) không hợp lệ", nil)
		return
	}
	if len([]rune(req.Description)) > payos.MaxDescriptionLength {
		m.reply(w, http.StatusOK, "20", "description too long", nil)
		return
	}

	m.mu.Lock()
	if _, exists := m.links[req.OrderCode]; exists {
		m.mu.Unlock()
		m.reply(w, http.StatusOK, "231", "Đơn thanh toán đã tồn tại", nil)
		return
	}
	l := m.ensureLocked(req.OrderCode)
	l.Amount = req.Amount
	l.AmountRemaining = req.Amount
	m.mu.Unlock()

	m.reply(w, http.StatusOK, payos.CodeSuccess, "success", payos.PaymentLink{
		Bin:           "970422",
		AccountNumber: "12345678",
		AccountName:   "RECIPESTORE",
		Amount:        req.Amount,
		Description:   req.Description,
		OrderCode:     req.OrderCode,
		Currency:      "VND",
		PaymentLinkID: l.ID,
		Status:        payos.StatusPending,
		CheckoutURL:   m.URL() + "/web/" + l.ID,
		QRCode:        "000201010212",
	})
}

func (m *MockPayOS) handleGet(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(w, r) {
		return
	}
	code, ok := m.orderCode(w, r)
	if !ok {
		return
	}

	m.mu.Lock()
	m.GetCalls++
	fail := m.FailGet
	l, exists := m.links[code]
	var info payos.PaymentLinkInfo
	if exists {
		info = *l
	}
	m.mu.Unlock()

	switch {
	case fail:
		m.reply(w, http.StatusServiceUnavailable, "99", "simulated failure", nil)
	case !exists:
		m.reply(w, http.StatusOK, "101", "Đơn thanh toán không tồn tại", nil)
	default:
		m.reply(w, http.StatusOK, payos.CodeSuccess, "success", info)
	}
}

func (m *MockPayOS) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !m.authorized(w, r) {
		return
	}
	code, ok := m.orderCode(w, r)
	if !ok {
		return
	}

	var body struct {
		CancellationReason string `json:"cancellationReason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	m.mu.Lock()
	m.CancelCalls++
	if m.FailCancel {
		m.mu.Unlock()
		m.reply(w, http.StatusServiceUnavailable, "99", "simulated failure", nil)
		return
	}
	l, exists := m.links[code]
	if !exists || l.Status != payos.StatusPending {
		m.mu.Unlock()
		m.reply(w, http.StatusOK, "101", "Đơn thanh toán không thể hủy", nil)
		return
	}
	now := time.Now().Format(time.RFC3339)
	reason := body.CancellationReason
	l.Status = payos.StatusCancelled
	l.CanceledAt = &now
	l.CancellationReason = &reason
	info := *l
	m.mu.Unlock()

	m.reply(w, http.StatusOK, payos.CodeSuccess, "success", info)
}

func (m *MockPayOS) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("x-client-id") != MockClientID || r.Header.Get("x-api-key") != MockAPIKey {
		m.reply(w, http.StatusUnauthorized, "401", "invalid credentials", nil)
		return false
	}
	return true
}

func (m *MockPayOS) orderCode(w http.ResponseWriter, r *http.Request) (int64, bool) {
	code, err := strconv.ParseInt(r.PathValue("code"), 10, 64)
	if err != nil {
		m.reply(w, http.StatusBadRequest, "20", "invalid order code", nil)
		return 0, false
	}
	return code, true
}

// reply writes a signed gateway envelope.
func (m *MockPayOS) reply(w http.ResponseWriter, status int, code, desc string, data interface{}) {
	env := map[string]interface{}{"code": code, "desc": desc, "data": nil, "signature": ""}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		env["data"] = json.RawMessage(raw)
		sig, err := signRaw(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		m.mu.Lock()
		if m.BadSignatures {
			sig = corrupt(sig)
		}
		m.mu.Unlock()
		env["signature"] = sig
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

func signRaw(raw []byte) (string, error) {
	obj, err := payos.DecodeObject(raw)
	if err != nil {
		return "", err
	}
	return payos.SignData(MockChecksumKey, obj)
}

func corrupt(sig string) string {
	if sig[0] == '0' {
		return "1" + sig[1:]
	}
	return "0" + sig[1:]
}
