package ledger

import (
	"errors"
	"fmt"

	"github.com/tipidbuddy/tipidbuddy-server/internal/kv"
)

// Ledger errors. Callers match them with errors.Is.
var (
	ErrGroupNotFound         = errors.New("group not found")
	ErrInvalidInviteCode     = errors.New("invalid invite code")
	ErrAlreadyMember         = errors.New("already a member of this group")
	ErrNotAMember            = errors.New("not a member of this group")
	ErrAlreadySubmittedToday = errors.New("already submitted today")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidName           = errors.New("invalid name")
	ErrCorruptRecord         = errors.New("corrupt record")
	ErrInviteCodeExhausted   = errors.New("could not allocate a unique invite code")
	// ErrStoreUnavailable marks failures of the backing store.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// wrapStore annotates a store error with the operation and tags backend failures.
func wrapStore(op string, err error) error {
	if errors.Is(err, kv.ErrUnavailable) {
		return fmt.Errorf("ledger: %s: %w: %w", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("ledger: %s: %w", op, err)
}
