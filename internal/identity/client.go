package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"go.uber.org/zap"
	"verichat/internal/common"
	"verichat/internal/logger"
	"verichat/internal/metrics"
)

type Client struct {
	service    Service
	assertions AssertionSource
	log        *zap.Logger
	metrics    *metrics.Metrics

	mu    sync.RWMutex
	cfg   Config
	ready bool
}

type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = logger.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func New(service Service, assertions AssertionSource, opts ...Option) *Client {
	c := &Client{service: service, assertions: assertions, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize must be called exactly once. A second call fails with
// ErrAlreadyInitialized and leaves the existing configuration in place.
func (c *Client) Initialize(cfg Config) error {
	if err := validation.ValidateStruct(&cfg,
		validation.Field(&cfg.PartnerID, validation.Required),
		validation.Field(&cfg.AppName, validation.Required),
		validation.Field(&cfg.IssuerID, validation.Required),
	); err != nil {
		return common.E(common.ErrConfiguration, "initialize identity client", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return common.E(common.ErrAlreadyInitialized, "initialize identity client", nil)
	}
	c.cfg = cfg
	c.ready = true
	c.log.Info("identity client initialized", logger.PartnerID(cfg.PartnerID))
	return nil
}

func (c *Client) config(op string) (Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.ready {
		return Config{}, common.E(common.ErrNotInitialized, op, nil)
	}
	return c.cfg, nil
}

// freshAssertion must complete before the dependent remote call is issued.
func (c *Client) freshAssertion(ctx context.Context, op string) (string, error) {
	token, err := c.assertions.Assertion(ctx)
	if err != nil {
		return "", common.E(nil, op, err)
	}
	return token, nil
}

func (c *Client) observe(op string, start time.Time) {
	c.metrics.IdentityCall(op, time.Since(start).Seconds())
}

// Login succeeds only when the service hands back a non-empty access token.
func (c *Client) Login(ctx context.Context) (*UserSession, error) {
	const op = "login"
	if _, err := c.config(op); err != nil {
		return nil, err
	}
	assertion, err := c.freshAssertion(ctx, op)
	if err != nil {
		return nil, err
	}

	defer c.observe(op, time.Now())
	resp, err := c.service.Login(ctx, assertion)
	if err != nil {
		return nil, common.E(nil, op, err)
	}
	if strings.TrimSpace(resp.Token) == "" {
		return nil, common.E(common.ErrLogin, op, errors.New("no access token in login response"))
	}
	return &UserSession{UserID: resp.UserID, AccessToken: resp.Token}, nil
}

// CurrentUser is non-interactive and returns nil when no session is active.
func (c *Client) CurrentUser(ctx context.Context) (*UserSession, error) {
	const op = "get current user"
	if _, err := c.config(op); err != nil {
		return nil, err
	}

	defer c.observe("user_info", time.Now())
	info, err := c.service.UserInfo(ctx)
	if err != nil {
		return nil, common.E(nil, op, err)
	}
	if info == nil {
		return nil, nil
	}
	if info.ID == "" {
		return nil, common.E(common.ErrInconsistentSuccess, op, errors.New("user info without id"))
	}
	token, err := c.service.AccessToken(ctx)
	if err != nil {
		return nil, common.E(nil, op, err)
	}
	return &UserSession{
		UserID:          info.ID,
		Email:           info.Email,
		DisplayName:     info.Name,
		IsMfaConfigured: info.IsMFASetup,
		AccessToken:     token,
	}, nil
}

// VerifyCredential asks the service whether the user holds credentialType.
// Only an explicit compliant status counts as success.
func (c *Client) VerifyCredential(ctx context.Context, credentialType, returnURL string) (Verification, error) {
	const op = "verify credential"
	cfg, err := c.config(op)
	if err != nil {
		return Verification{}, err
	}
	if strings.TrimSpace(credentialType) == "" {
		return Verification{}, common.E(common.ErrVerify, op, errors.New("credential type is empty"))
	}
	if returnURL == "" {
		returnURL = cfg.ReturnURL
	}
	v := Verification{CredentialType: credentialType, ProgramID: ProgramID(cfg.AppName, credentialType)}

	assertion, err := c.freshAssertion(ctx, op)
	if err != nil {
		return v, err
	}

	defer c.observe("verify", time.Now())
	resp, err := c.service.VerifyCredential(ctx, VerifyRequest{
		AuthToken:   assertion,
		ProgramID:   v.ProgramID,
		RedirectURL: returnURL,
	})
	if err != nil {
		return v, common.E(nil, op, err)
	}
	v.Status = resp.Status
	if !strings.EqualFold(resp.Status, StatusCompliant) {
		status := resp.Status
		if status == "" {
			status = "no status"
		}
		return v, common.E(common.ErrVerify, op, fmt.Errorf("%s: %s", v.ProgramID, status))
	}
	c.log.Debug("credential verified", zap.String("program_id", v.ProgramID))
	return v, nil
}

// IssueCredential issues a credentialType credential to the signed-in user
// through the configured issuer. A response without an id is a failure.
func (c *Client) IssueCredential(ctx context.Context, credentialType string, subject map[string]any) (Issuance, error) {
	const op = "issue credential"
	cfg, err := c.config(op)
	if err != nil {
		return Issuance{}, err
	}
	iss := Issuance{CredentialID: CredentialID(cfg.AppName, credentialType)}

	assertion, err := c.freshAssertion(ctx, op)
	if err != nil {
		return iss, err
	}

	defer c.observe("issue", time.Now())
	resp, err := c.service.IssueCredential(ctx, IssueRequest{
		AuthToken:    assertion,
		IssuerID:     cfg.IssuerID,
		CredentialID: iss.CredentialID,
		Subject:      subject,
	})
	if err != nil {
		return iss, common.E(nil, op, err)
	}
	if resp.ID == "" {
		return iss, common.E(common.ErrInconsistentSuccess, op, errors.New("issuance response without id"))
	}
	iss.ID = resp.ID
	return iss, nil
}

// EnrollOrUpdateMfa runs the interactive MFA flow. Callers re-read
// CurrentUser to observe the new flag.
func (c *Client) EnrollOrUpdateMfa(ctx context.Context) error {
	const op = "setup mfa"
	if _, err := c.config(op); err != nil {
		return err
	}
	assertion, err := c.freshAssertion(ctx, op)
	if err != nil {
		return err
	}

	defer c.observe("mfa", time.Now())
	if err := c.service.SetupOrUpdateMfa(ctx, assertion); err != nil {
		return common.E(nil, op, err)
	}
	return nil
}

// Logout is safe to call when no session is active.
func (c *Client) Logout(ctx context.Context) error {
	const op = "logout"
	if _, err := c.config(op); err != nil {
		return err
	}
	if err := c.service.Logout(ctx); err != nil {
		return common.E(nil, op, err)
	}
	return nil
}
