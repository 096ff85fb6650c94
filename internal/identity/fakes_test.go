package identity

import (
	"context"
	"fmt"
	"sync"
)

type countingAssertions struct {
	mu    sync.Mutex
	n     int
	err   error
	given []string
}

func (a *countingAssertions) Assertion(context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.n++
	tok := fmt.Sprintf("assertion-%d", a.n)
	a.given = append(a.given, tok)
	return tok, nil
}

type fakeService struct {
	mu sync.Mutex

	loginResp   LoginResponse
	loginErr    error
	user        *UserInfo
	userErr     error
	token       string
	mfaErr      error
	verifyResp  VerifyResponse
	verifyErr   error
	issueResp   IssueResponse
	issueErr    error
	logoutCalls int

	authTokens []string
	verifyReqs []VerifyRequest
	issueReqs  []IssueRequest
}

func (f *fakeService) Login(_ context.Context, authToken string) (LoginResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authTokens = append(f.authTokens, authToken)
	if f.loginErr == nil && f.loginResp.Token != "" {
		f.token = f.loginResp.Token
	}
	return f.loginResp, f.loginErr
}

func (f *fakeService) UserInfo(context.Context) (*UserInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user, f.userErr
}

func (f *fakeService) AccessToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, nil
}

func (f *fakeService) SetupOrUpdateMfa(_ context.Context, authToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authTokens = append(f.authTokens, authToken)
	if f.mfaErr == nil && f.user != nil {
		f.user.IsMFASetup = true
	}
	return f.mfaErr
}

func (f *fakeService) VerifyCredential(_ context.Context, req VerifyRequest) (VerifyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authTokens = append(f.authTokens, req.AuthToken)
	f.verifyReqs = append(f.verifyReqs, req)
	return f.verifyResp, f.verifyErr
}

func (f *fakeService) IssueCredential(_ context.Context, req IssueRequest) (IssueResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authTokens = append(f.authTokens, req.AuthToken)
	f.issueReqs = append(f.issueReqs, req)
	return f.issueResp, f.issueErr
}

func (f *fakeService) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls++
	f.token = ""
	return nil
}
