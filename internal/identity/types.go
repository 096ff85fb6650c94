// Package identity is the client-side facade over the third-party identity and
// credential service. Every remote operation is preceded by a freshly fetched
// partner assertion; assertions are never cached or reused.
package identity

import (
	"fmt"
	"strings"
)

// UserSession is returned to the caller and not retained by the Client.
type UserSession struct {
	UserID          string `json:"userId"`
	Email           string `json:"email,omitempty"`
	DisplayName     string `json:"displayName,omitempty"`
	IsMfaConfigured bool   `json:"isMfaConfigured"`
	AccessToken     string `json:"-"`
}

type Config struct {
	PartnerID string
	AppName   string
	IssuerID  string
	// ReturnURL is the default redirect target after interactive verification.
	ReturnURL string
}

// VerificationStatus values reported by the identity service.
const (
	StatusCompliant    = "Compliant"
	StatusNonCompliant = "Non-Compliant"
)

type Verification struct {
	CredentialType string
	ProgramID      string
	Status         string
}

type Issuance struct {
	CredentialID string
	ID           string
}

// ProgramID names the verification program for a credential type.
func ProgramID(app, credentialType string) string {
	return fmt.Sprintf("%s-%s-verification", slug(app), slug(credentialType))
}

// CredentialID names the issuance template for a credential type.
func CredentialID(app, credentialType string) string {
	return fmt.Sprintf("%s-%s-credential", slug(app), slug(credentialType))
}

func slug(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
}
