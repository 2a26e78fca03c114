/**
 * @description
 * This file implements the Orange Money Webpay client. The Webpay flow is
 * redirect-based: initiation obtains a pay token, the payer is sent to the
 * hosted payment page, and Orange notifies the outcome on the configured
 * webhook URL.
 *
 * API reference: https://developer.orange.com/apis/om-webpay-cm/overview
 *
 * @dependencies
 * - bytes, context, encoding/*, fmt, io, log, net/http, net/url, strings, time: Standard Go libraries.
 * - github.com/google/uuid: For simulated provider references.
 */
package momo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	orangeDefaultBaseURL = "https://api.orange.com/orange-money-webpay/cm/v1"
	orangeTokenURL       = "https://api.orange.com/oauth/v3/token"
)

// OrangeConfig holds the Webpay credentials.
type OrangeConfig struct {
	MerchantKey   string
	APIUser       string
	APIKey        string
	WebhookSecret string
	BaseURL       string
	Production    bool
}

// OrangeMoney is the Gateway implementation for Orange Money Webpay.
type OrangeMoney struct {
	name       string
	config     OrangeConfig
	tokens     *TokenCache
	httpClient *http.Client
}

// NewOrangeMoney creates an Orange Money client. The token cache is shared by
// all calls on this client; pass nil to build a default one.
func NewOrangeMoney(name string, config OrangeConfig, tokens *TokenCache) *OrangeMoney {
	if config.BaseURL == "" {
		config.BaseURL = orangeDefaultBaseURL
	}
	client := &OrangeMoney{
		name:   name,
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	if tokens == nil {
		tokens = NewTokenCache(client.fetchToken)
	}
	client.tokens = tokens
	return client
}

// Name returns the provider identifier.
func (c *OrangeMoney) Name() string {
	return c.name
}

// Configured reports whether real Webpay credentials are present.
func (c *OrangeMoney) Configured() bool {
	return c.config.MerchantKey != "" && c.config.APIUser != "" && c.config.APIKey != ""
}

type orangeTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *OrangeMoney) fetchToken(ctx context.Context) (string, time.Duration, error) {
	credentials := base64.StdEncoding.EncodeToString([]byte(c.config.APIUser + ":" + c.config.APIKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, orangeTokenURL, strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+credentials)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to execute token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("orange oauth error (status %d): %s", resp.StatusCode, string(body))
	}

	var tokenResp orangeTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", 0, fmt.Errorf("failed to decode token response: %w", err)
	}
	return tokenResp.AccessToken, time.Duration(tokenResp.ExpiresIn) * time.Second, nil
}

type orangeWebpayRequest struct {
	MerchantKey string `json:"merchant_key"`
	Currency    string `json:"currency"`
	OrderID     string `json:"order_id"`
	Amount      int64  `json:"amount"`
	ReturnURL   string `json:"return_url"`
	CancelURL   string `json:"cancel_url"`
	NotifURL    string `json:"notif_url"`
	Lang        string `json:"lang"`
	Reference   string `json:"reference"`
}

type orangeWebpayResponse struct {
	Status   int    `json:"status"`
	PayToken string `json:"pay_token"`
	TxnID    string `json:"txnid"`
	Message  string `json:"message"`
}

// InitiatePayment obtains a Webpay pay token and builds the hosted payment URL.
func (c *OrangeMoney) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	if !c.Configured() {
		return c.simulatePayment(req), nil
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain orange access token: %w", err)
	}

	payload := orangeWebpayRequest{
		MerchantKey: c.config.MerchantKey,
		Currency:    req.Currency,
		OrderID:     req.Reference,
		Amount:      req.Amount,
		ReturnURL:   req.ReturnURL,
		CancelURL:   req.CancelURL,
		NotifURL:    req.NotifyURL,
		Lang:        "fr",
		Reference:   req.Description,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webpayment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/webpayment", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create webpayment request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Merchant-Key", c.config.MerchantKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute webpayment request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read webpayment response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=momo provider=%s op=initiate status=%d reference=%s msg=\"non-2xx webpayment response\"", c.name, resp.StatusCode, req.Reference)
		return nil, fmt.Errorf("%w: webpayment status %d", ErrPaymentRejected, resp.StatusCode)
	}

	var webpayResp orangeWebpayResponse
	if err := json.Unmarshal(respBody, &webpayResp); err != nil {
		return nil, fmt.Errorf("failed to decode webpayment response: %w", err)
	}
	if webpayResp.PayToken == "" {
		return nil, fmt.Errorf("%w: %s", ErrPaymentRejected, webpayResp.Message)
	}

	return &PaymentResult{
		ProviderReference: webpayResp.PayToken,
		PaymentURL:        c.config.BaseURL + "/webpayment?payToken=" + url.QueryEscape(webpayResp.PayToken),
		Message:           webpayResp.Message,
		RawResponse:       string(respBody),
	}, nil
}

type orangeStatusResponse struct {
	Status  string `json:"status"`
	TxnID   string `json:"txnid"`
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
	Message string `json:"message"`
}

// CheckStatus polls Webpay for the state of a pay token.
func (c *OrangeMoney) CheckStatus(ctx context.Context, providerReference string) (*StatusResult, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("orange money not configured; cannot poll status")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain orange access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/webpayment/"+url.PathEscape(providerReference), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Merchant-Key", c.config.MerchantKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute status request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read status response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("orange status poll failed (status %d)", resp.StatusCode)
	}

	var statusResp orangeStatusResponse
	if err := json.Unmarshal(body, &statusResp); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}

	return &StatusResult{
		Status:    statusResp.Status,
		Reference: statusResp.OrderID,
		Message:   statusResp.Message,
	}, nil
}

// VerifySignature checks a webhook body against the Webpay signature header.
func (c *OrangeMoney) VerifySignature(payload []byte, signature string) bool {
	return verifyHMACSignature(c.name, c.config.WebhookSecret, payload, signature, c.config.Production)
}

func (c *OrangeMoney) simulatePayment(req PaymentRequest) *PaymentResult {
	log.Printf("level=warn component=momo provider=%s msg=\"provider not configured; simulating payment\" reference=%s amount=%d", c.name, req.Reference, req.Amount)
	payToken := "OM_SIM_" + uuid.NewString()
	return &PaymentResult{
		ProviderReference: payToken,
		PaymentURL:        req.ReturnURL + "?simulated=true&orderId=" + url.QueryEscape(req.Reference),
		Message:           "simulated payment (orange money not configured)",
		Simulated:         true,
	}
}
