// Package identity validates secret-bound player identities.
//
// A player id carrying the reserved prefix is self-certifying: it must equal
// the prefix plus the URL-safe base64 digest of a fixed salt followed by the
// player's raw secret. The relay never stores per-player credentials; whoever
// holds the secret can re-derive the id, nobody else can claim it. The salt
// is public, so this stops casual impersonation but is not a security
// boundary.
package identity

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/hystericca/grimlink"
)

// digestSalt is prepended to the raw secret before hashing. It must never
// change: every issued player id depends on it.
var digestSalt = [...]byte{155, 113, 7, 193, 229, 225, 124, 147, 153, 27, 254, 60, 164, 234, 108, 10}

var (
	ErrMissingSecret   = errors.New("identity: secret required for secret-bound player id")
	ErrMalformedSecret = errors.New("identity: secret is not valid base64url")
	ErrMismatch        = errors.New("identity: player id does not match secret derivation")
)

// SecretBound reports whether the player id claims a secret-bound identity.
func SecretBound(playerID string) bool {
	return strings.HasPrefix(playerID, grimlink.SecretPrefix)
}

// Validate checks a claimed player id against its proof. Ids without the
// secret-bound prefix are always accepted. rawSecret is the URL-safe base64
// value from the connection request; padded and unpadded forms are both
// accepted.
func Validate(playerID, rawSecret string) error {
	if !SecretBound(playerID) {
		return nil
	}
	if rawSecret == "" {
		return ErrMissingSecret
	}
	secret, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(rawSecret, "="))
	if err != nil {
		return ErrMalformedSecret
	}
	if playerID != DeriveID(secret) {
		return ErrMismatch
	}
	return nil
}

// DeriveID computes the canonical secret-bound player id for a raw secret.
func DeriveID(secret []byte) string {
	h := sha256.New()
	h.Write(digestSalt[:])
	h.Write(secret)
	return grimlink.SecretPrefix + base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
