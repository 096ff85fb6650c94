package identity

import "context"

// Service is the remote identity capability. Implementations hold their own
// session (access token); the Client never caches assertions for them.
type Service interface {
	Login(ctx context.Context, authToken string) (LoginResponse, error)
	// UserInfo returns nil, nil when no session is active.
	UserInfo(ctx context.Context) (*UserInfo, error)
	AccessToken(ctx context.Context) (string, error)
	SetupOrUpdateMfa(ctx context.Context, authToken string) error
	VerifyCredential(ctx context.Context, req VerifyRequest) (VerifyResponse, error)
	IssueCredential(ctx context.Context, req IssueRequest) (IssueResponse, error)
	Logout(ctx context.Context) error
}

type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId,omitempty"`
}

type UserInfo struct {
	ID         string `json:"id"`
	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
	IsMFASetup bool   `json:"isMfaSetup"`
}

type VerifyRequest struct {
	AuthToken   string `json:"authToken"`
	ProgramID   string `json:"programId"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

type VerifyResponse struct {
	Status string `json:"status"`
}

type IssueRequest struct {
	AuthToken    string         `json:"authToken"`
	IssuerID     string         `json:"issuerId"`
	CredentialID string         `json:"credentialId"`
	Subject      map[string]any `json:"subject"`
}

type IssueResponse struct {
	ID string `json:"id"`
}
