/**
 * @description
 * This file implements the MTN MoMo Collection client. The Collection flow is
 * push-based: requesttopay sends an approval prompt to the payer's phone and
 * returns 202 Accepted; the outcome arrives later on the callback URL or via
 * a status poll on the X-Reference-Id.
 *
 * API reference: https://momodeveloper.mtn.com
 *
 * @dependencies
 * - bytes, context, encoding/*, fmt, io, log, net/http, net/url, strconv, time: Standard Go libraries.
 * - github.com/google/uuid: For the X-Reference-Id and simulated references.
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
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	mtnProductionBaseURL  = "https://proxy.momoapi.mtn.com/collection/v1_0"
	mtnSandboxBaseURL     = "https://sandbox.momodeveloper.mtn.com/collection/v1_0"
	mtnProductionTokenURL = "https://proxy.momoapi.mtn.com/collection/token/"
	mtnSandboxTokenURL    = "https://sandbox.momodeveloper.mtn.com/collection/token/"
)

// MTNConfig holds the Collection API credentials.
type MTNConfig struct {
	APIUser         string
	APIKey          string
	SubscriptionKey string
	WebhookSecret   string
	CallbackURL     string
	BaseURL         string
	TokenURL        string
	Production      bool
}

// MTNMoMo is the Gateway implementation for MTN MoMo Collection.
type MTNMoMo struct {
	name       string
	config     MTNConfig
	tokens     *TokenCache
	httpClient *http.Client
}

// NewMTNMoMo creates an MTN MoMo client. The token cache is shared by all
// calls on this client; pass nil to build a default one.
func NewMTNMoMo(name string, config MTNConfig, tokens *TokenCache) *MTNMoMo {
	if config.BaseURL == "" {
		if config.Production {
			config.BaseURL = mtnProductionBaseURL
		} else {
			config.BaseURL = mtnSandboxBaseURL
		}
	}
	if config.TokenURL == "" {
		if config.Production {
			config.TokenURL = mtnProductionTokenURL
		} else {
			config.TokenURL = mtnSandboxTokenURL
		}
	}
	client := &MTNMoMo{
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
func (c *MTNMoMo) Name() string {
	return c.name
}

// Configured reports whether real Collection credentials are present.
func (c *MTNMoMo) Configured() bool {
	return c.config.APIUser != "" && c.config.APIKey != "" && c.config.SubscriptionKey != ""
}

func (c *MTNMoMo) targetEnvironment() string {
	if c.config.Production {
		return "production"
	}
	return "sandbox"
}

type mtnTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *MTNMoMo) fetchToken(ctx context.Context) (string, time.Duration, error) {
	credentials := base64.StdEncoding.EncodeToString([]byte(c.config.APIUser + ":" + c.config.APIKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+credentials)
	req.Header.Set("Ocp-Apim-Subscription-Key", c.config.SubscriptionKey)

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
		return "", 0, fmt.Errorf("mtn token error (status %d): %s", resp.StatusCode, string(body))
	}

	var tokenResp mtnTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", 0, fmt.Errorf("failed to decode token response: %w", err)
	}
	return tokenResp.AccessToken, time.Duration(tokenResp.ExpiresIn) * time.Second, nil
}

type mtnParty struct {
	PartyIDType string `json:"partyIdType"`
	PartyID     string `json:"partyId"`
}

type mtnRequestToPay struct {
	Amount       string   `json:"amount"`
	Currency     string   `json:"currency"`
	ExternalID   string   `json:"externalId"`
	Payer        mtnParty `json:"payer"`
	PayerMessage string   `json:"payerMessage"`
	PayeeNote    string   `json:"payeeNote"`
}

// InitiatePayment sends a requesttopay prompt to the payer's phone. MTN
// answers 202 Accepted; the X-Reference-Id we generate becomes the provider
// reference for the rest of the lifecycle.
func (c *MTNMoMo) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	if !c.Configured() {
		return c.simulatePayment(req), nil
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain mtn access token: %w", err)
	}

	referenceID := uuid.NewString()
	payload := mtnRequestToPay{
		Amount:     strconv.FormatInt(req.Amount, 10),
		Currency:   req.Currency,
		ExternalID: req.Reference,
		Payer: mtnParty{
			PartyIDType: "MSISDN",
			PartyID:     req.PayerPhone,
		},
		PayerMessage: req.Description,
		PayeeNote:    req.Description,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal requesttopay: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/requesttopay", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create requesttopay request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("X-Reference-Id", referenceID)
	httpReq.Header.Set("X-Target-Environment", c.targetEnvironment())
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", c.config.SubscriptionKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.CallbackURL != "" {
		httpReq.Header.Set("X-Callback-Url", c.config.CallbackURL)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute requesttopay: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		log.Printf("level=warn component=momo provider=%s op=initiate status=%d reference=%s msg=\"requesttopay not accepted\"", c.name, resp.StatusCode, req.Reference)
		return nil, fmt.Errorf("%w: requesttopay status %d", ErrPaymentRejected, resp.StatusCode)
	}

	return &PaymentResult{
		ProviderReference: referenceID,
		Message:           "payment request sent; payer must confirm on their phone",
		RawResponse:       string(respBody),
	}, nil
}

type mtnStatusResponse struct {
	Status     string   `json:"status"`
	ExternalID string   `json:"externalId"`
	Amount     string   `json:"amount"`
	Currency   string   `json:"currency"`
	Payer      mtnParty `json:"payer"`
	Reason     string   `json:"reason"`
}

// CheckStatus polls the requesttopay resource for the current payment state.
func (c *MTNMoMo) CheckStatus(ctx context.Context, providerReference string) (*StatusResult, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("mtn momo not configured; cannot poll status")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain mtn access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/requesttopay/"+url.PathEscape(providerReference), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Target-Environment", c.targetEnvironment())
	req.Header.Set("Ocp-Apim-Subscription-Key", c.config.SubscriptionKey)

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
		return nil, fmt.Errorf("mtn status poll failed (status %d)", resp.StatusCode)
	}

	var statusResp mtnStatusResponse
	if err := json.Unmarshal(body, &statusResp); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}

	return &StatusResult{
		Status:    statusResp.Status,
		Reference: statusResp.ExternalID,
		Message:   statusResp.Reason,
	}, nil
}

// VerifySignature checks a webhook body against the callback signature header.
func (c *MTNMoMo) VerifySignature(payload []byte, signature string) bool {
	return verifyHMACSignature(c.name, c.config.WebhookSecret, payload, signature, c.config.Production)
}

func (c *MTNMoMo) simulatePayment(req PaymentRequest) *PaymentResult {
	log.Printf("level=warn component=momo provider=%s msg=\"provider not configured; simulating payment\" reference=%s amount=%d", c.name, req.Reference, req.Amount)
	return &PaymentResult{
		ProviderReference: "MTN_SIM_" + uuid.NewString(),
		Message:           "simulated payment (mtn momo not configured)",
		Simulated:         true,
	}
}
