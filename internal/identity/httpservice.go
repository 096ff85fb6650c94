package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"verichat/internal/common"
	"verichat/internal/prefs"
)

// HTTPService talks JSON to the identity service:
//
//	POST /v1/login                {authToken}                           -> {token, userId}
//	GET  /v1/me                   Bearer                                -> UserInfo | 401
//	POST /v1/mfa                  {authToken} Bearer
//	POST /v1/credentials/verify   {authToken, programId, redirectUrl}   -> {status}
//	POST /v1/credentials/issue    {authToken, issuerId, credentialId, subject} -> {id}
//	POST /v1/logout               Bearer
//
// The access token is mirrored into a prefs.Store so a restarted agent can
// restore the session silently.
type HTTPService struct {
	baseURL   string
	partnerID string
	client    *http.Client
	tokens    prefs.Store

	mu     sync.Mutex
	token  string
	loaded bool
}

func NewHTTPService(baseURL, partnerID string, client *http.Client, tokens prefs.Store) *HTTPService {
	if client == nil {
		client = http.DefaultClient
	}
	if tokens == nil {
		tokens = prefs.NewMemory()
	}
	return &HTTPService{
		baseURL:   strings.TrimRight(baseURL, "/"),
		partnerID: partnerID,
		client:    client,
		tokens:    tokens,
	}
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("identity service responded %d: %s", e.Status, e.Message)
}

func (s *HTTPService) Login(ctx context.Context, authToken string) (LoginResponse, error) {
	var out LoginResponse
	if err := s.do(ctx, http.MethodPost, "/v1/login", "", map[string]string{"authToken": authToken}, &out); err != nil {
		return LoginResponse{}, classify(common.ErrLogin, "login", err)
	}
	if out.Token != "" {
		if err := s.setToken(ctx, out.Token); err != nil {
			return LoginResponse{}, err
		}
	}
	return out, nil
}

func (s *HTTPService) UserInfo(ctx context.Context) (*UserInfo, error) {
	token, err := s.currentToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}
	var out UserInfo
	if err := s.do(ctx, http.MethodGet, "/v1/me", token, nil, &out); err != nil {
		var ae *apiError
		if errors.As(err, &ae) && (ae.Status == http.StatusUnauthorized || ae.Status == http.StatusNotFound) {
			_ = s.setToken(ctx, "")
			return nil, nil
		}
		return nil, classify(common.ErrLogin, "get user info", err)
	}
	if out.ID == "" {
		return nil, nil
	}
	return &out, nil
}

func (s *HTTPService) AccessToken(ctx context.Context) (string, error) {
	return s.currentToken(ctx)
}

func (s *HTTPService) SetupOrUpdateMfa(ctx context.Context, authToken string) error {
	token, err := s.currentToken(ctx)
	if err != nil {
		return err
	}
	if err := s.do(ctx, http.MethodPost, "/v1/mfa", token, map[string]string{"authToken": authToken}, nil); err != nil {
		return classify(common.ErrMfa, "setup mfa", err)
	}
	return nil
}

func (s *HTTPService) VerifyCredential(ctx context.Context, req VerifyRequest) (VerifyResponse, error) {
	token, err := s.currentToken(ctx)
	if err != nil {
		return VerifyResponse{}, err
	}
	var out VerifyResponse
	if err := s.do(ctx, http.MethodPost, "/v1/credentials/verify", token, req, &out); err != nil {
		return VerifyResponse{}, classify(common.ErrVerify, "verify credential", err)
	}
	return out, nil
}

func (s *HTTPService) IssueCredential(ctx context.Context, req IssueRequest) (IssueResponse, error) {
	token, err := s.currentToken(ctx)
	if err != nil {
		return IssueResponse{}, err
	}
	var out IssueResponse
	if err := s.do(ctx, http.MethodPost, "/v1/credentials/issue", token, req, &out); err != nil {
		return IssueResponse{}, classify(common.ErrIssue, "issue credential", err)
	}
	return out, nil
}

// Logout clears the local token even when the remote call fails.
func (s *HTTPService) Logout(ctx context.Context) error {
	token, err := s.currentToken(ctx)
	if err != nil {
		return err
	}
	if clearErr := s.setToken(ctx, ""); clearErr != nil {
		return clearErr
	}
	if token == "" {
		return nil
	}
	if err := s.do(ctx, http.MethodPost, "/v1/logout", token, nil, nil); err != nil {
		return classify(common.ErrNetwork, "logout", err)
	}
	return nil
}

func (s *HTTPService) currentToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		v, _, err := s.tokens.Get(ctx, prefs.AccessTokenKey)
		if err != nil {
			return "", common.E(common.ErrNetwork, "load access token", err)
		}
		s.token = v
		s.loaded = true
	}
	return s.token, nil
}

func (s *HTTPService) setToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if token == "" {
		err = s.tokens.Delete(ctx, prefs.AccessTokenKey)
	} else {
		err = s.tokens.Set(ctx, prefs.AccessTokenKey, token)
	}
	s.token = token
	s.loaded = true
	if err != nil {
		return common.E(common.ErrNetwork, "store access token", err)
	}
	return nil
}

func (s *HTTPService) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Partner-Id", s.partnerID)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return common.E(common.ErrNetwork, "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return common.E(common.ErrNetwork, "", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return common.E(common.ErrInconsistentSuccess, "", fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

// classify maps a transport or API failure onto the taxonomy: 5xx and 429 are
// transient, other 4xx are semantic failures of kind.
func classify(kind error, op string, err error) error {
	var ae *apiError
	if errors.As(err, &ae) {
		if ae.Status >= 500 || ae.Status == http.StatusTooManyRequests {
			return common.E(common.ErrNetwork, op, err)
		}
		return common.E(kind, op, err)
	}
	if common.Kind(err) != nil {
		return &common.Error{Kind: common.Kind(err), Op: op, Err: err}
	}
	return common.E(common.ErrNetwork, op, err)
}
