// Package signature verifies HMAC-SHA256 webhook signatures.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"b2monitor/internal/models"
)

// Compute returns the hex HMAC-SHA256 digest of payload under secret.
func Compute(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign produces a header value in the provider's "v1=<hex>" format.
func Sign(payload []byte, secret string) string {
	return "v1=" + Compute(payload, secret)
}

// Verify checks a claimed signature header against the HMAC-SHA256 of
// the raw request body. Accepted header formats are "v1=<hex>" (the
// official B2 format), "sha256=<hex>" (legacy) and a bare hex digest.
// Any other version prefix is rejected. The comparison is constant
// time.
func Verify(payload []byte, header, secret string) error {
	if secret == "" || header == "" {
		return fmt.Errorf("%w: missing secret or signature header", models.ErrSignatureMismatch)
	}

	claimed := header
	switch {
	case strings.HasPrefix(header, "sha256="):
		claimed = strings.TrimPrefix(header, "sha256=")
	case strings.HasPrefix(header, "v1="):
		claimed = strings.TrimPrefix(header, "v1=")
	case strings.Contains(header, "="):
		version, _, _ := strings.Cut(header, "=")
		return fmt.Errorf("%w: unsupported signature version %q", models.ErrSignatureMismatch, version)
	}

	expected := Compute(payload, secret)
	if !hmac.Equal([]byte(expected), []byte(claimed)) {
		return models.ErrSignatureMismatch
	}
	return nil
}
