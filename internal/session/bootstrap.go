package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultSessionPath is the bootstrap endpoint below the bridge base URL.
const DefaultSessionPath = "/session"

// maxErrorBody caps how much of a failed bootstrap response is quoted.
const maxErrorBody = 512

// ErrNoSessionID is returned when the bootstrap response lacks a session id.
var ErrNoSessionID = errors.New("session: bootstrap response has no session_id")

// Info identifies a bootstrapped session.
type Info struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
}

// Bootstrap creates a session on the bridge with an HTTP POST to baseURL+path.
// An empty path selects [DefaultSessionPath]. A missing conversation id
// defaults to the session id.
func Bootstrap(ctx context.Context, client *http.Client, baseURL, path string) (Info, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if path == "" {
		path = DefaultSessionPath
	}
	endpoint, err := url.JoinPath(baseURL, path)
	if err != nil {
		return Info{}, fmt.Errorf("session: bootstrap url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader("{}"))
	if err != nil {
		return Info{}, fmt.Errorf("session: bootstrap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Info{}, fmt.Errorf("session: bootstrap: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Info{}, fmt.Errorf("session: bootstrap: unexpected status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var info Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Info{}, fmt.Errorf("session: bootstrap: decode response: %w", err)
	}
	if info.SessionID == "" {
		return Info{}, ErrNoSessionID
	}
	if info.ConversationID == "" {
		info.ConversationID = info.SessionID
	}
	return info, nil
}

// WebSocketURL derives {base with ws/wss scheme}/ws/{sessionID} from the
// bridge base URL.
func WebSocketURL(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("session: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("session: unsupported base url scheme %q", u.Scheme)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.JoinPath("ws", sessionID).String(), nil
}
