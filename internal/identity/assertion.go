package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"verichat/internal/common"
)

// AssertionSource hands out a new partner assertion on every call.
type AssertionSource interface {
	Assertion(ctx context.Context) (string, error)
}

// HTTPAssertionSource fetches assertions from the backend's /api/generate-jwt.
type HTTPAssertionSource struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPAssertionSource(baseURL string, client *http.Client) *HTTPAssertionSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAssertionSource{BaseURL: strings.TrimRight(baseURL, "/"), Client: client}
}

func (s *HTTPAssertionSource) Assertion(ctx context.Context) (string, error) {
	const op = "fetch partner assertion"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/api/generate-jwt", nil)
	if err != nil {
		return "", common.E(common.ErrConfiguration, op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", common.E(common.ErrNetwork, op, err)
	}
	defer resp.Body.Close()

	var body struct {
		Token string `json:"token"`
		Error string `json:"error"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", common.E(common.ErrNetwork, op, err)
	}
	_ = json.Unmarshal(raw, &body)

	if resp.StatusCode != http.StatusOK {
		msg := body.Error
		if msg == "" {
			msg = resp.Status
		}
		kind := common.ErrNetwork
		if resp.StatusCode == http.StatusInternalServerError {
			kind = common.ErrConfiguration
		}
		return "", common.E(kind, op, fmt.Errorf("backend responded %d: %s", resp.StatusCode, msg))
	}
	if body.Token == "" {
		return "", common.E(common.ErrInconsistentSuccess, op, errors.New("response carried no token"))
	}
	return body.Token, nil
}
