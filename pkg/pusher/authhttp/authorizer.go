// Package authhttp implements the default HTTP authorization
// collaborator (spec.md §6): a form-encoded POST against a
// user-configured endpoint, producing the auth signature (and, for
// presence/encrypted channels, channel data or a shared secret) a
// subscribe frame needs.
//
// This is the one external collaborator spec.md names as a plain HTTP
// POST; stdlib net/http and net/url are used directly rather than
// reaching for a heavier client, matching the teacher's own outbound
// HTTP calls.
package authhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/radu-cendars/sockudo-client/pkg/pusher/channels"
)

// Authorizer performs the channel-authorization HTTP POST described in
// spec.md §6.
type Authorizer struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
}

// New builds an Authorizer against endpoint. Extra headers (e.g. an
// application's own bearer token) are sent on every request.
func New(endpoint string, headers map[string]string) *Authorizer {
	return &Authorizer{
		endpoint: endpoint,
		headers:  headers,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type authResponseBody struct {
	Auth         string `json:"auth"`
	ChannelData  string `json:"channel_data,omitempty"`
	SharedSecret string `json:"shared_secret,omitempty"`
}

// Authorize implements channels.Authorizer.
func (a *Authorizer) Authorize(ctx context.Context, channelName, socketID string) (channels.AuthResponse, error) {
	form := url.Values{
		"socket_id":    {socketID},
		"channel_name": {channelName},
	}
	body, err := a.post(ctx, form)
	if err != nil {
		return channels.AuthResponse{}, err
	}

	var parsed authResponseBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return channels.AuthResponse{}, fmt.Errorf("authhttp: decode response for %s: %w", channelName, err)
	}
	return channels.AuthResponse{
		Auth:         parsed.Auth,
		ChannelData:  parsed.ChannelData,
		SharedSecret: parsed.SharedSecret,
	}, nil
}

// userAuthResponseBody is the shape of the user-authentication
// endpoint's response (spec.md §6: "analogous with request {socket_id}
// and response {auth, user_data}").
type userAuthResponseBody struct {
	Auth     string `json:"auth"`
	UserData string `json:"user_data,omitempty"`
}

// AuthorizeUser performs the user-authentication POST used to sign in
// for presence-aware watchlist/user channels.
func (a *Authorizer) AuthorizeUser(ctx context.Context, socketID string) (auth string, userData string, err error) {
	form := url.Values{"socket_id": {socketID}}
	body, err := a.post(ctx, form)
	if err != nil {
		return "", "", err
	}
	var parsed userAuthResponseBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", "", fmt.Errorf("authhttp: decode user-auth response: %w", err)
	}
	return parsed.Auth, parsed.UserData, nil
}

func (a *Authorizer) post(ctx context.Context, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("authhttp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("authhttp: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("authhttp: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authhttp: endpoint rejected request: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
