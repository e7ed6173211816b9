// Package auth signs in to a token-issuing service with a Solana wallet's
// message signature
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/sigweihq/solwallet/pkg/constants"
	"github.com/sigweihq/solwallet/pkg/signer"
	"github.com/sigweihq/solwallet/pkg/transport"
	"github.com/sigweihq/solwallet/pkg/utils"
)

// MessageSigner is the part of a connected wallet sign-in needs.
// *signer.Signer implements it.
type MessageSigner interface {
	Address() string
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}

var _ MessageSigner = (*signer.Signer)(nil)

// Client handles wallet-based authentication and keeps the issued tokens
type Client struct {
	baseURL    string
	httpClient *http.Client

	tokenMutex   sync.RWMutex
	accessToken  string
	refreshToken string
}

func NewClient(baseURL string) (*Client, error) {
	if err := utils.ValidateEndpointURL(baseURL); err != nil {
		return nil, err
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: utils.NewHTTPClient(0),
	}, nil
}

// SignIn fetches a sign-in message for the signer's address, has the wallet
// sign it and logs in with the signature
func (c *Client) SignIn(ctx context.Context, s MessageSigner) (*AuthResponse, error) {
	if s == nil {
		return nil, fmt.Errorf("wallet not connected")
	}
	msg, err := c.GetAuthMessage(ctx, s.Address())
	if err != nil {
		return nil, err
	}
	sig, err := s.SignMessage(ctx, []byte(msg.Message))
	if err != nil {
		return nil, fmt.Errorf("failed to sign auth message: %w", err)
	}
	if len(sig) != constants.SignatureLength {
		return nil, fmt.Errorf("wallet returned a %d byte signature", len(sig))
	}
	return c.Login(ctx, msg.Message, base58.Encode(sig))
}

// GetAuthMessage retrieves a sign-in message for walletAddress
// GET /api/v1/auth/message?walletAddress=...
func (c *Client) GetAuthMessage(ctx context.Context, walletAddress string) (*MessageResponse, error) {
	if err := utils.ValidateAddress(walletAddress); err != nil {
		return nil, err
	}
	u, err := url.Parse(fmt.Sprintf("%s/api/v1/auth/message", c.baseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("walletAddress", walletAddress)
	u.RawQuery = q.Encode()

	var result MessageResponse
	if err := c.do(ctx, http.MethodGet, u.String(), nil, "", &result); err != nil {
		return nil, fmt.Errorf("failed to get auth message: %w", err)
	}
	return &result, nil
}

// Login exchanges a signed message for tokens
// POST /api/v1/auth/login
func (c *Client) Login(ctx context.Context, message, signature string) (*AuthResponse, error) {
	var result AuthResponse
	body := LoginRequest{Message: message, Signature: signature}
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/login", body, "", &result); err != nil {
		return nil, fmt.Errorf("failed to login: %w", err)
	}
	c.SetTokens(result.AccessToken, result.RefreshToken)
	return &result, nil
}

// RefreshToken replaces both tokens using the refresh token
// POST /api/v1/auth/refresh
func (c *Client) RefreshToken(ctx context.Context) (*TokenPair, error) {
	current := c.GetRefreshToken()
	if current == "" {
		return nil, fmt.Errorf("no refresh token available")
	}

	var result TokenPair
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/refresh", RefreshRequest{RefreshToken: current}, "", &result); err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	c.SetTokens(result.AccessToken, result.RefreshToken)
	return &result, nil
}

// GetMe returns the signed-in user. An expired access token is refreshed
// once.
// GET /api/v1/auth/me
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var result User
	err := c.authorized(ctx, http.MethodGet, c.baseURL+"/api/v1/auth/me", &result)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	return &result, nil
}

// Logout ends the session and clears the stored tokens
// POST /api/v1/auth/logout
func (c *Client) Logout(ctx context.Context) error {
	if err := c.authorized(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/logout", nil); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	c.ClearTokens()
	return nil
}

func (c *Client) authorized(ctx context.Context, method, url string, result any) error {
	token := c.GetAccessToken()
	if token == "" {
		return fmt.Errorf("not authenticated: no access token")
	}
	err := c.do(ctx, method, url, nil, token, result)

	var httpErr *transport.HTTPError
	if !errors.As(err, &httpErr) || !httpErr.IsUnauthorized() || c.GetRefreshToken() == "" {
		return err
	}
	if _, refreshErr := c.RefreshToken(ctx); refreshErr != nil {
		return errors.Join(err, refreshErr)
	}
	return c.do(ctx, method, url, nil, c.GetAccessToken(), result)
}

// do sends a JSON request and decodes a JSON response into result when it
// is set
func (c *Client) do(ctx context.Context, method, url string, body any, token string, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	limitedReader := io.LimitReader(resp.Body, int64(constants.MaxResponseBodySize))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(limitedReader)
		return &transport.HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: bodyBytes}
	}
	if result != nil {
		if err := json.NewDecoder(limitedReader).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// VerifySignature checks a base58 ed25519 signature of message by address.
// Services use it to check a LoginRequest.
func VerifySignature(address, message, signature string) error {
	pub, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	if !sig.Verify(pub, []byte(message)) {
		return fmt.Errorf("signature does not match address %s", address)
	}
	return nil
}

// SetTokens stores the access and refresh tokens
func (c *Client) SetTokens(accessToken, refreshToken string) {
	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()
	c.accessToken = accessToken
	c.refreshToken = refreshToken
}

func (c *Client) GetAccessToken() string {
	c.tokenMutex.RLock()
	defer c.tokenMutex.RUnlock()
	return c.accessToken
}

func (c *Client) GetRefreshToken() string {
	c.tokenMutex.RLock()
	defer c.tokenMutex.RUnlock()
	return c.refreshToken
}

func (c *Client) ClearTokens() {
	c.SetTokens("", "")
}

func (c *Client) IsAuthenticated() bool {
	return c.GetAccessToken() != ""
}
