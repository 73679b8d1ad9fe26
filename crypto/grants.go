package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidGrant is returned for malformed or forged grant tokens.
var ErrInvalidGrant = errors.New("crypto: invalid grant token")

// GrantClaims describe an album access grant.
type GrantClaims struct {
	AlbumID   string `json:"album_id"`
	OwnerID   string `json:"owner_id"`
	GranteeID string `json:"grantee_id"`
	IssuedAt  int64  `json:"iat"`
}

// SignGrant returns a compact token "<claims>.<signature>", both base64url.
func (k KeyPair) SignGrant(claims GrantClaims) (string, error) {
	if len(k.Private) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("invalid Ed25519 private key length: got %d want %d", len(k.Private), ed25519.PrivateKeySize)
	}
	if claims.AlbumID == "" || claims.GranteeID == "" {
		return "", errors.New("album_id and grantee_id are required")
	}
	if claims.IssuedAt == 0 {
		claims.IssuedAt = time.Now().Unix()
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encode grant claims: %w", err)
	}
	signature := ed25519.Sign(k.Private, payload)

	enc := base64.RawURLEncoding
	return enc.EncodeToString(payload) + "." + enc.EncodeToString(signature), nil
}

// VerifyGrant checks a token against the owner's public key and returns its claims.
func VerifyGrant(public ed25519.PublicKey, token string) (GrantClaims, error) {
	if len(public) != ed25519.PublicKeySize {
		return GrantClaims{}, ErrInvalidGrant
	}
	encodedPayload, encodedSignature, ok := strings.Cut(token, ".")
	if !ok {
		return GrantClaims{}, ErrInvalidGrant
	}

	enc := base64.RawURLEncoding
	payload, err := enc.DecodeString(encodedPayload)
	if err != nil {
		return GrantClaims{}, ErrInvalidGrant
	}
	signature, err := enc.DecodeString(encodedSignature)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return GrantClaims{}, ErrInvalidGrant
	}
	if !ed25519.Verify(public, payload, signature) {
		return GrantClaims{}, ErrInvalidGrant
	}

	var claims GrantClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return GrantClaims{}, ErrInvalidGrant
	}
	return claims, nil
}
