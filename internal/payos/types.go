package payos

import (
	"encoding/json"
	"fmt"
)

// Payment link statuses reported by the gateway.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusPaid       = "PAID"
	StatusCancelled  = "CANCELLED"
	StatusExpired    = "EXPIRED"
)

// CodeSuccess is the gateway's success code for envelopes and webhook data.
const CodeSuccess = "00"

// MaxDescriptionLength is the longest description accepted for bank transfers.
const MaxDescriptionLength = 25

type Item struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

// PaymentRequest is the body of POST /v2/payment-requests.
type PaymentRequest struct {
	OrderCode   int64  `json:"orderCode"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	BuyerName   string `json:"buyerName,omitempty"`
	BuyerEmail  string `json:"buyerEmail,omitempty"`
	Items       []Item `json:"items,omitempty"`
	CancelURL   string `json:"cancelUrl"`
	ReturnURL   string `json:"returnUrl"`
	ExpiredAt   int64  `json:"expiredAt,omitempty"`
	Signature   string `json:"signature"`
}

// PaymentLink is the data returned when a link is created.
type PaymentLink struct {
	Bin           string `json:"bin"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
	Amount        int64  `json:"amount"`
	Description   string `json:"description"`
	OrderCode     int64  `json:"orderCode"`
	Currency      string `json:"currency"`
	PaymentLinkID string `json:"paymentLinkId"`
	Status        string `json:"status"`
	CheckoutURL   string `json:"checkoutUrl"`
	QRCode        string `json:"qrCode"`
}

// PaymentLinkInfo is the data returned by the lookup and cancel endpoints.
type PaymentLinkInfo struct {
	ID                 string              `json:"id"`
	OrderCode          int64               `json:"orderCode"`
	Amount             int64               `json:"amount"`
	AmountPaid         int64               `json:"amountPaid"`
	AmountRemaining    int64               `json:"amountRemaining"`
	Status             string              `json:"status"`
	CreatedAt          string              `json:"createdAt"`
	Transactions       []TransactionDetail `json:"transactions"`
	CancellationReason *string             `json:"cancellationReason"`
	CanceledAt         *string             `json:"canceledAt"`
}

type TransactionDetail struct {
	Reference           string `json:"reference"`
	Amount              int64  `json:"amount"`
	AccountNumber       string `json:"accountNumber"`
	Description         string `json:"description"`
	TransactionDateTime string `json:"transactionDateTime"`
}

// WebhookBody is the envelope PayOS posts to the webhook URL.
type WebhookBody struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

// WebhookData is the signed part of a webhook.
type WebhookData struct {
	OrderCode              int64  `json:"orderCode"`
	Amount                 int64  `json:"amount"`
	Description            string `json:"description"`
	AccountNumber          string `json:"accountNumber"`
	Reference              string `json:"reference"`
	TransactionDateTime    string `json:"transactionDateTime"`
	Currency               string `json:"currency"`
	PaymentLinkID          string `json:"paymentLinkId"`
	Code                   string `json:"code"`
	Desc                   string `json:"desc"`
	CounterAccountBankID   string `json:"counterAccountBankId"`
	CounterAccountBankName string `json:"counterAccountBankName"`
	CounterAccountName     string `json:"counterAccountName"`
	CounterAccountNumber   string `json:"counterAccountNumber"`
	VirtualAccountName     string `json:"virtualAccountName"`
	VirtualAccountNumber   string `json:"virtualAccountNumber"`
}

type envelope struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

// APIError is a non-success answer from the gateway.
type APIError struct {
	StatusCode int
	Code       string
	Desc       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payos: status=%d code=%s desc=%s", e.StatusCode, e.Code, e.Desc)
}

// Temporary reports whether retrying the call may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// TruncateDescription shortens s to the gateway's description limit.
func TruncateDescription(s string) string {
	r := []rune(s)
	if len(r) <= MaxDescriptionLength {
		return s
	}
	return string(r[:MaxDescriptionLength])
}
