package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// VerifyAssertion checks token against a JWKS document the way a relying
// party would. now may be nil to use the wall clock.
func VerifyAssertion(token string, jwksJSON []byte, now func() time.Time) (*AssertionClaims, error) {
	jwks, err := keyfunc.NewJSON(json.RawMessage(jwksJSON))
	if err != nil {
		return nil, fmt.Errorf("load key set: %w", err)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if now != nil {
		opts = append(opts, jwt.WithTimeFunc(now))
	}

	parsed, err := jwt.ParseWithClaims(token, &AssertionClaims{}, jwks.Keyfunc, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*AssertionClaims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	if claims.PartnerID == "" {
		return nil, errors.New("assertion has no partnerId")
	}
	return claims, nil
}
