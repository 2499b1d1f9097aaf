package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
)

// GrantJWTBearer is the grant type used to exchange a signed assertion
// for a service access token.
// https://www.rfc-editor.org/rfc/rfc7523.html#section-2.1
const GrantJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// AssertionSigner builds the short-lived service-identity assertion
// presented to the provider's token endpoint. Pure computation: the only
// side effect is the signature itself.
type AssertionSigner struct {
	key      *ServiceKey
	audience string
	ttl      time.Duration

	// overwritten for testing
	now func() time.Time
}

// NewAssertionSigner constructs a signer for the given service credential.
// The audience is the provider issuer URL.
func NewAssertionSigner(key *ServiceKey, audience string) (*AssertionSigner, error) {
	if key == nil || key.privateKey == nil {
		return nil, errors.New("service key not loaded")
	}
	if audience == "" {
		return nil, errors.New("assertion audience required")
	}
	return &AssertionSigner{
		key:      key,
		audience: audience,
		ttl:      DefaultAssertionTTL,
		now:      time.Now,
	}, nil
}

// Sign produces the serialized RS256 assertion with
// iss = sub = service user id, aud = provider issuer, and a 5 minute
// lifetime. The kid header lets the provider select the matching public key.
func (s *AssertionSigner) Sign() (string, error) {
	opts := (&jose.SignerOptions{}).WithType("JWT")
	opts.WithHeader("kid", s.key.KeyID)

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.RS256,
		Key:       s.key.privateKey,
	}, opts)
	if err != nil {
		return "", fmt.Errorf("create assertion signer: %w", err)
	}

	now := s.now().UTC()
	claims := jwt.Claims{
		Issuer:   s.key.UserID,
		Subject:  s.key.UserID,
		Audience: jwt.Audience{s.audience},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(s.ttl)),
	}

	token, err := jwt.Signed(signer).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}
	return token, nil
}
