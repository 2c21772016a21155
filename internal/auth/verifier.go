package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token has expired")
)

// Claims is the identity-provider token payload this service consumes.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens against the identity provider's public
// key set. Verification is local, so it fails closed without a network
// dependency.
type Verifier struct {
	keys     []*rsa.PublicKey
	issuer   string
	audience string
	parser   *jwt.Parser
}

// NewVerifier parses one or more PEM-encoded RSA public keys and builds a
// verifier enforcing the expected issuer and audience.
func NewVerifier(publicKeyPEM, issuer, audience string) (*Verifier, error) {
	keys, err := parseKeySet([]byte(publicKeyPEM))
	if err != nil {
		return nil, err
	}
	return &Verifier{
		keys:     keys,
		issuer:   issuer,
		audience: audience,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(audience),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Verify checks the token against every configured key and returns the
// authenticated user id.
func (v *Verifier) Verify(tokenString string) (int64, error) {
	var lastErr error
	for _, key := range v.keys {
		claims := &Claims{}
		token, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return 0, ErrTokenExpired
			}
			lastErr = err
			continue
		}
		if !token.Valid || claims.UserID == 0 {
			lastErr = ErrTokenInvalid
			continue
		}
		return claims.UserID, nil
	}
	if lastErr != nil {
		return 0, ErrTokenInvalid
	}
	return 0, ErrTokenInvalid
}

func parseKeySet(pemData []byte) ([]*rsa.PublicKey, error) {
	var keys []*rsa.PublicKey
	rest := pemData
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		rsaKey, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("unsupported public key type %T", parsed)
		}
		keys = append(keys, rsaKey)
	}
	if len(keys) == 0 {
		return nil, errors.New("no public keys in AUTH_PUBLIC_KEYS")
	}
	return keys, nil
}
