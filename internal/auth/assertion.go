package auth

import (
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"verichat/internal/common"
)

const (
	// KeyID names the deployment key pair in token headers and in the JWKS.
	KeyID = "verichat-key-v2"
	// AssertionTTL is the validity window of a partner assertion.
	AssertionTTL = 5 * time.Minute
)

// ErrInvalidPartner is a caller error: the requested partner id is not the
// one this deployment signs for.
var ErrInvalidPartner = errors.New("partner id does not match deployment")

type AssertionClaims struct {
	PartnerID string `json:"partnerId"`
	jwt.RegisteredClaims
}

// Assertion is a freshly minted partner assertion. It is never persisted.
type Assertion struct {
	Token     string
	KeyID     string
	PartnerID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type PrivateKeySource interface {
	PrivateKey() (*rsa.PrivateKey, error)
}

// Signer mints RS256 partner assertions with the deployment's private key.
type Signer struct {
	partnerID string
	keys      PrivateKeySource
	now       func() time.Time
}

func NewSigner(partnerID string, keys PrivateKeySource) *Signer {
	return NewSignerWithNow(partnerID, keys, time.Now)
}

func NewSignerWithNow(partnerID string, keys PrivateKeySource, now func() time.Time) *Signer {
	return &Signer{partnerID: partnerID, keys: keys, now: now}
}

func (s *Signer) PartnerID() string { return s.partnerID }

// Configured reports a configuration error when no partner id is set.
func (s *Signer) Configured() error {
	if s.partnerID == "" {
		return common.E(common.ErrConfiguration, "issue assertion", errors.New("partner id not configured"))
	}
	return nil
}

// Issue signs an assertion for partnerID, which must equal the configured one.
func (s *Signer) Issue(partnerID string) (Assertion, error) {
	if err := s.Configured(); err != nil {
		return Assertion{}, err
	}
	if partnerID == "" || partnerID != s.partnerID {
		return Assertion{}, ErrInvalidPartner
	}

	key, err := s.keys.PrivateKey()
	if err != nil {
		return Assertion{}, err
	}
	if key == nil {
		return Assertion{}, common.E(common.ErrConfiguration, "issue assertion", errors.New("signing key not loaded"))
	}

	now := s.now().Truncate(time.Second)
	exp := now.Add(AssertionTTL)
	claims := AssertionClaims{
		PartnerID: partnerID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = KeyID
	signed, err := token.SignedString(key)
	if err != nil {
		return Assertion{}, common.E(common.ErrConfiguration, "sign assertion", err)
	}

	return Assertion{
		Token:     signed,
		KeyID:     KeyID,
		PartnerID: partnerID,
		IssuedAt:  now,
		ExpiresAt: exp,
	}, nil
}
