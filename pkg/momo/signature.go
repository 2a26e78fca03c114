/**
 * @description
 * This file implements webhook signature verification shared by both provider
 * clients. Providers sign the raw request body with HMAC-SHA256 and send the
 * hex digest in a header.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex, log: Standard Go libraries.
 */
package momo

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log"
)

// verifyHMACSignature checks an HMAC-SHA256 hex signature over the raw payload.
// An empty secret means the provider's webhook secret was never configured:
// in production every callback is rejected; elsewhere callbacks are accepted
// with a loud warning so local and sandbox setups keep working.
func verifyHMACSignature(provider, secret string, payload []byte, signature string, production bool) bool {
	if secret == "" {
		if production {
			log.Printf("level=error component=momo provider=%s msg=\"webhook secret not configured; rejecting callback\"", provider)
			return false
		}
		log.Printf("level=warn component=momo provider=%s msg=\"webhook secret not configured; accepting unverified callback\"", provider)
		return true
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}
