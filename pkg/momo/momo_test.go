package momo

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"
)

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureValid(t *testing.T) {
	payload := []byte(`{"status":"SUCCESS","reference":"PL-ABC12345"}`)
	signature := signPayload("topsecret", payload)

	if !verifyHMACSignature("orange_money", "topsecret", payload, signature, true) {
		t.Error("valid signature rejected")
	}
}

func TestVerifySignatureTampered(t *testing.T) {
	payload := []byte(`{"status":"SUCCESS","reference":"PL-ABC12345"}`)
	signature := signPayload("topsecret", payload)
	tampered := []byte(`{"status":"SUCCESS","reference":"PL-XYZ99999"}`)

	if verifyHMACSignature("orange_money", "topsecret", tampered, signature, true) {
		t.Error("tampered payload accepted")
	}
	if verifyHMACSignature("orange_money", "topsecret", payload, signature+"00", true) {
		t.Error("altered signature accepted")
	}
	if verifyHMACSignature("orange_money", "othersecret", payload, signature, true) {
		t.Error("signature under a different secret accepted")
	}
}

func TestVerifySignatureUnconfiguredSecret(t *testing.T) {
	payload := []byte(`{"status":"SUCCESS"}`)

	if verifyHMACSignature("mtn_momo", "", payload, "whatever", true) {
		t.Error("unconfigured secret must reject callbacks in production")
	}
	if !verifyHMACSignature("mtn_momo", "", payload, "whatever", false) {
		t.Error("unconfigured secret should accept callbacks outside production")
	}
}

func TestTokenCacheReusesValidToken(t *testing.T) {
	var calls int
	cache := NewTokenCache(func(_ context.Context) (string, time.Duration, error) {
		calls++
		return "token-1", time.Hour, nil
	})

	for i := 0; i < 3; i++ {
		token, err := cache.Token(context.Background())
		if err != nil {
			t.Fatalf("Token returned error: %v", err)
		}
		if token != "token-1" {
			t.Fatalf("unexpected token %q", token)
		}
	}
	if calls != 1 {
		t.Errorf("expected a single fetch, got %d", calls)
	}
}

func TestTokenCacheRefreshesExpiredToken(t *testing.T) {
	var calls int
	cache := NewTokenCache(func(_ context.Context) (string, time.Duration, error) {
		calls++
		// Shorter than the refresh margin, so the token is expired on arrival.
		return "short-lived", 30 * time.Second, nil
	})

	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("first Token call failed: %v", err)
	}
	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("second Token call failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected a refresh on the second call, got %d fetches", calls)
	}
}

func TestTokenCacheInvalidate(t *testing.T) {
	var calls int
	cache := NewTokenCache(func(_ context.Context) (string, time.Duration, error) {
		calls++
		return "token", time.Hour, nil
	})

	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("Token returned error: %v", err)
	}
	cache.Invalidate()
	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("Token after Invalidate returned error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected refetch after Invalidate, got %d fetches", calls)
	}
}

func TestTokenCachePropagatesFetchError(t *testing.T) {
	fetchErr := errors.New("oauth down")
	cache := NewTokenCache(func(_ context.Context) (string, time.Duration, error) {
		return "", 0, fetchErr
	})

	if _, err := cache.Token(context.Background()); !errors.Is(err, fetchErr) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestUnconfiguredOrangeSimulatesPayment(t *testing.T) {
	client := NewOrangeMoney("orange_money", OrangeConfig{}, nil)
	if client.Configured() {
		t.Fatal("client with empty credentials reports configured")
	}

	result, err := client.InitiatePayment(context.Background(), PaymentRequest{
		Reference:  "PL-ABC12345",
		Amount:     10_364,
		Currency:   "XAF",
		PayerPhone: "237690000001",
		ReturnURL:  "https://example.test/return",
	})
	if err != nil {
		t.Fatalf("simulated initiation failed: %v", err)
	}
	if !result.Simulated {
		t.Error("expected a simulated result")
	}
	if result.ProviderReference == "" {
		t.Error("simulation must still produce a provider reference")
	}
	if result.PaymentURL == "" {
		t.Error("orange simulation must produce a redirect URL")
	}
}

func TestUnconfiguredMTNSimulatesPayment(t *testing.T) {
	client := NewMTNMoMo("mtn_momo", MTNConfig{}, nil)

	result, err := client.InitiatePayment(context.Background(), PaymentRequest{
		Reference:  "PL-DEF67890",
		Amount:     51_650,
		Currency:   "XAF",
		PayerPhone: "237670000002",
	})
	if err != nil {
		t.Fatalf("simulated initiation failed: %v", err)
	}
	if !result.Simulated {
		t.Error("expected a simulated result")
	}
	if result.PaymentURL != "" {
		t.Error("mtn flow is push-based; no redirect URL expected")
	}
}

func TestRegistryLookup(t *testing.T) {
	orange := NewOrangeMoney("orange_money", OrangeConfig{}, nil)
	mtn := NewMTNMoMo("mtn_momo", MTNConfig{}, nil)
	registry := NewRegistry(orange, mtn)

	g, err := registry.Get("orange_money")
	if err != nil {
		t.Fatalf("Get(orange_money) failed: %v", err)
	}
	if g.Name() != "orange_money" {
		t.Errorf("wrong gateway returned: %s", g.Name())
	}

	if _, err := registry.Get("paypal"); !errors.Is(err, ErrUnknownGateway) {
		t.Fatalf("expected ErrUnknownGateway, got %v", err)
	}
}
