package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// remoteUser is the user object returned by the provider's user endpoint.
type remoteUser struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	UserMetadata UserMetadata `json:"user_metadata"`
}

// RemoteVerifier asks the provider's user endpoint who owns a token.
type RemoteVerifier struct {
	url    string
	apiKey string
	client *http.Client
}

// NewRemoteVerifier constructs a RemoteVerifier; a nil client gets a 5s timeout client.
func NewRemoteVerifier(url, apiKey string, client *http.Client) *RemoteVerifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &RemoteVerifier{url: strings.TrimSpace(url), apiKey: strings.TrimSpace(apiKey), client: client}
}

// Verify calls GET url with the bearer token.
func (v *RemoteVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, v.url, nil)
	if errReq != nil {
		return Identity{}, fmt.Errorf("identity: build request: %w", errReq)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if v.apiKey != "" {
		req.Header.Set("apikey", v.apiKey)
	}

	resp, errDo := v.client.Do(req)
	if errDo != nil {
		if ctx.Err() != nil {
			return Identity{}, ctx.Err()
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrTransient, errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Identity{}, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	default:
		return Identity{}, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	}

	var user remoteUser
	if errDecode := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&user); errDecode != nil {
		return Identity{}, fmt.Errorf("%w: decode user: %v", ErrTransient, errDecode)
	}
	userID := strings.TrimSpace(user.ID)
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: missing user id", ErrUnauthorized)
	}
	return Identity{
		UserID:      userID,
		Email:       strings.TrimSpace(user.Email),
		DisplayName: displayName(user.UserMetadata.Name, user.Email),
	}, nil
}
