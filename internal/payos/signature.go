package payos

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidSignature is returned when a webhook signature does not match its data.
var ErrInvalidSignature = errors.New("payos: invalid signature")

// SignPaymentRequest signs the five fields PayOS checks on a payment request.
// Keys are in alphabetical order.
func SignPaymentRequest(checksumKey string, req PaymentRequest) string {
	payload := fmt.Sprintf("amount=%d&cancelUrl=%s&description=%s&orderCode=%d&returnUrl=%s",
		req.Amount, req.CancelURL, req.Description, req.OrderCode, req.ReturnURL)
	return sign(checksumKey, payload)
}

// SignData signs an arbitrary object the way PayOS signs webhook and response data:
// keys sorted, joined as k=v with &, null as empty, nested values as JSON text.
func SignData(checksumKey string, data map[string]interface{}) (string, error) {
	payload, err := canonicalize(data)
	if err != nil {
		return "", err
	}
	return sign(checksumKey, payload), nil
}

// VerifyData checks signature against data in constant time.
func VerifyData(checksumKey string, data map[string]interface{}, signature string) error {
	if signature == "" {
		return ErrInvalidSignature
	}
	expected, err := SignData(checksumKey, data)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrInvalidSignature
	}
	return nil
}

// DecodeObject decodes a JSON object keeping numbers verbatim so signatures match
// what the gateway signed.
func DecodeObject(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("payos: decode object: %w", err)
	}
	if obj == nil {
		return nil, errors.New("payos: data is not an object")
	}
	return obj, nil
}

func canonicalize(data map[string]interface{}) (string, error) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		v, err := valueString(data[k])
		if err != nil {
			return "", fmt.Errorf("payos: field %s: %w", k, err)
		}
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
	return b.String(), nil
}

func valueString(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		if val == "null" || val == "undefined" {
			return "", nil
		}
		return val, nil
	case json.Number:
		return val.String(), nil
	case bool:
		return strconv.FormatBool(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	default:
		// encoding/json sorts map keys, which matches the gateway's nested encoding.
		// The gateway does not HTML-escape <, > or &.
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(val); err != nil {
			return "", err
		}
		return strings.TrimSuffix(buf.String(), "\n"), nil
	}
}

func sign(key, payload string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
