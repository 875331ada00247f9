package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pos-service/internal/models"
)

const expiryTimeLayout = "2006-01-02 15:04:05 -0700"

// MidtransClient talks to the Midtrans Core and Snap APIs
type MidtransClient struct {
	coreURL       string
	snapURL       string
	serverKey     string
	defaultExpiry time.Duration
	httpClient    *http.Client
}

// NewMidtransClient creates a gateway client. defaultExpiry is used when
// the provider response carries no expiry of its own.
func NewMidtransClient(coreURL, snapURL, serverKey string, defaultExpiry time.Duration) *MidtransClient {
	return &MidtransClient{
		coreURL:       coreURL,
		snapURL:       snapURL,
		serverKey:     serverKey,
		defaultExpiry: defaultExpiry,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}
}

type transactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type chargeRequestBody struct {
	PaymentType        string             `json:"payment_type"`
	TransactionDetails transactionDetails `json:"transaction_details"`
	ItemDetails        []ChargeItem       `json:"item_details,omitempty"`
}

type snapRequestBody struct {
	TransactionDetails transactionDetails `json:"transaction_details"`
	ItemDetails        []ChargeItem       `json:"item_details,omitempty"`
}

type chargeResponseBody struct {
	StatusCode        string `json:"status_code"`
	StatusMessage     string `json:"status_message"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	QRString          string `json:"qr_string"`
	ExpiryTime        string `json:"expiry_time"`
	Actions           []struct {
		Name   string `json:"name"`
		Method string `json:"method"`
		URL    string `json:"url"`
	} `json:"actions"`
}

type snapResponseBody struct {
	Token         string   `json:"token"`
	RedirectURL   string   `json:"redirect_url"`
	ErrorMessages []string `json:"error_messages"`
}

type statusResponseBody struct {
	StatusCode        string `json:"status_code"`
	StatusMessage     string `json:"status_message"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
}

// checkStatus validates the body-level status_code. The provider answers
// some application-level rejections with HTTP 200, so the body code is
// the authoritative one.
func checkStatus(code, message string) error {
	switch code {
	case "", "200", "201", "202":
		return nil
	case "404":
		return fmt.Errorf("%w: %s", ErrOrderNotFound, message)
	default:
		return fmt.Errorf("%w: status %s: %s", ErrRejected, code, message)
	}
}

// Charge initiates a QRIS charge on the Core API or a Snap checkout
// session, depending on req.PaymentType.
func (c *MidtransClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.PaymentType == models.PaymentTypeSnap {
		return c.chargeSnap(ctx, req)
	}
	return c.chargeQRIS(ctx, req)
}

func (c *MidtransClient) chargeQRIS(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body := chargeRequestBody{
		PaymentType: "qris",
		TransactionDetails: transactionDetails{
			OrderID:     req.OrderID,
			GrossAmount: req.Amount,
		},
		ItemDetails: req.Items,
	}

	raw, err := c.post(ctx, c.coreURL+"/v2/charge", body)
	if err != nil {
		return nil, err
	}

	var resp chargeResponseBody
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse charge response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, resp.StatusMessage); err != nil {
		return nil, err
	}

	result := &ChargeResult{
		OrderID:    req.OrderID,
		GatewayRef: resp.TransactionID,
		QRString:   resp.QRString,
		ExpiresAt:  c.parseExpiry(resp.ExpiryTime),
		Raw:        raw,
	}
	for _, action := range resp.Actions {
		if action.Name == "generate-qr-code" {
			result.ActionURL = action.URL
		}
	}
	return result, nil
}

func (c *MidtransClient) chargeSnap(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body := snapRequestBody{
		TransactionDetails: transactionDetails{
			OrderID:     req.OrderID,
			GrossAmount: req.Amount,
		},
		ItemDetails: req.Items,
	}

	raw, err := c.post(ctx, c.snapURL+"/snap/v1/transactions", body)
	if err != nil {
		return nil, err
	}

	var resp snapResponseBody
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse snap response: %w", err)
	}
	// Snap failures carry error_messages instead of a status_code.
	if len(resp.ErrorMessages) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrRejected, strings.Join(resp.ErrorMessages, "; "))
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("%w: snap response carried no token", ErrRejected)
	}

	return &ChargeResult{
		OrderID:     req.OrderID,
		Token:       resp.Token,
		RedirectURL: resp.RedirectURL,
		ExpiresAt:   time.Now().Add(c.defaultExpiry),
		Raw:         raw,
	}, nil
}

// QueryStatus asks the provider for the current transaction status
func (c *MidtransClient) QueryStatus(ctx context.Context, orderID string) (Status, json.RawMessage, error) {
	raw, err := c.get(ctx, c.coreURL+"/v2/"+orderID+"/status")
	if err != nil {
		return StatusUnknown, nil, err
	}

	var resp statusResponseBody
	if err := json.Unmarshal(raw, &resp); err != nil {
		return StatusUnknown, nil, fmt.Errorf("failed to parse status response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, resp.StatusMessage); err != nil {
		return StatusUnknown, nil, err
	}

	return ParseStatus(resp.TransactionStatus, resp.FraudStatus), raw, nil
}

// Cancel cancels a pending transaction at the provider
func (c *MidtransClient) Cancel(ctx context.Context, orderID string) (Status, json.RawMessage, error) {
	raw, err := c.post(ctx, c.coreURL+"/v2/"+orderID+"/cancel", nil)
	if err != nil {
		return StatusUnknown, nil, err
	}

	var resp statusResponseBody
	if err := json.Unmarshal(raw, &resp); err != nil {
		return StatusUnknown, nil, fmt.Errorf("failed to parse cancel response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, resp.StatusMessage); err != nil {
		return StatusUnknown, nil, err
	}

	return ParseStatus(resp.TransactionStatus, resp.FraudStatus), raw, nil
}

func (c *MidtransClient) post(ctx context.Context, url string, body interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *MidtransClient) get(ctx context.Context, url string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *MidtransClient) do(req *http.Request) (json.RawMessage, error) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	// Midtrans uses the server key as a basic auth username with an
	// empty password.
	req.SetBasicAuth(c.serverKey, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	return raw, nil
}

func (c *MidtransClient) parseExpiry(value string) time.Time {
	if value != "" {
		if t, err := time.Parse(expiryTimeLayout, value); err == nil {
			return t
		}
		// Provider timestamps omit the zone offset in some responses.
		if t, err := time.ParseInLocation("2006-01-02 15:04:05", value, time.Local); err == nil {
			return t
		}
	}
	return time.Now().Add(c.defaultExpiry)
}
