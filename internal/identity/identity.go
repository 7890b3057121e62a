// Package identity verifies bearer tokens issued by the external auth provider and
// keeps the user profile records derived from them.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrUnauthorized indicates a missing, malformed, expired or rejected token.
	ErrUnauthorized = errors.New("identity: unauthorized")
	// ErrTransient indicates the provider could not be reached; the call may be retried.
	ErrTransient = errors.New("identity: provider unavailable")
)

// defaultDisplayName is used when the provider carries no name for the user.
const defaultDisplayName = "User"

// Identity is the verified caller of a request.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
}

// Verifier maps a bearer token to an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

// Retrying retries transient verification failures with a fixed backoff.
type Retrying struct {
	next     Verifier
	attempts int
	backoff  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps next; attempts below one are treated as one.
func NewRetrying(next Verifier, attempts int, backoff time.Duration) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{next: next, attempts: attempts, backoff: backoff, sleep: sleepContext}
}

// Verify calls the wrapped verifier up to the configured number of attempts.
func (r *Retrying) Verify(ctx context.Context, token string) (Identity, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		id, err := r.next.Verify(ctx, token)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrTransient) {
			return Identity{}, err
		}
		lastErr = err
		if attempt == r.attempts {
			break
		}
		log.WithError(err).WithField("attempt", attempt).Debug("identity: transient failure, retrying")
		if errSleep := r.sleep(ctx, r.backoff); errSleep != nil {
			return Identity{}, errSleep
		}
	}
	return Identity{}, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
