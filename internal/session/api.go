package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrAuthFailed means the credential service rejected the request. The
// client never retries on its own.
var ErrAuthFailed = errors.New("authentication failed")

// APIClient talks to the HTTP side of the chat server: the credential
// endpoints and the room listing. It knows nothing about the socket.
type APIClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *log.Logger
}

// NewAPIClient returns a client for the server at baseURL, e.g.
// "http://localhost:8000". A nil logger falls back to log.Default.
func NewAPIClient(baseURL string, logger *log.Logger) *APIClient {
	if logger == nil {
		logger = log.Default()
	}
	return &APIClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Logger:     logger,
	}
}

// Login exchanges a name and password for a bearer token. Any non-200
// response is ErrAuthFailed.
func (c *APIClient) Login(ctx context.Context, name, password string) (string, error) {
	return c.credential(ctx, "/auth/login", name, password)
}

// Register creates an account and returns its first token.
func (c *APIClient) Register(ctx context.Context, name, password string) (string, error) {
	return c.credential(ctx, "/auth/createuser", name, password)
}

func (c *APIClient) credential(ctx context.Context, path, name, password string) (string, error) {
	form := url.Values{}
	form.Set("name", name)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s returned %d", ErrAuthFailed, path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	tok := strings.TrimSpace(string(body))
	if tok == "" {
		return "", fmt.Errorf("%w: empty token", ErrAuthFailed)
	}
	return tok, nil
}

// CheckUser reports whether a name is already registered.
func (c *APIClient) CheckUser(ctx context.Context, name string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/auth/checkuser/"+url.PathEscape(name), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(body)) == "found", nil
}

// Rooms lists the rooms this token's user belongs to. The raw token
// rides in the authorization header, as the server expects.
func (c *APIClient) Rooms(ctx context.Context, token string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/chat/list", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("authorization", token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list rooms: status %d", resp.StatusCode)
	}
	var rooms []string
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// CreateRoom asks the server to create a room with the given members.
func (c *APIClient) CreateRoom(ctx context.Context, token, name string, users ...string) error {
	path := c.BaseURL + "/chat/create/" + url.PathEscape(name)
	for _, u := range users {
		path += "/" + url.PathEscape(u)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("authorization", token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("create room: status %d", resp.StatusCode)
	}
	return nil
}
