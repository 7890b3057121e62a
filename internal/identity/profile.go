package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/tipidbuddy/tipidbuddy-server/internal/kv"
)

// Profile is the stored user record kept under user:{id}.
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// ProfileKey returns the store key of a user's profile.
func ProfileKey(userID string) string {
	return "user:" + userID
}

// Directory reads and writes profiles through a TTL cache.
type Directory struct {
	store kv.Store
	cache *cache.Cache
	group singleflight.Group
	now   func() time.Time
}

// NewDirectory constructs a Directory whose cache entries live for ttl.
func NewDirectory(store kv.Store, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Directory{
		store: store,
		cache: cache.New(ttl, 2*ttl),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Lookup returns the profile of userID. ok is false when none is stored.
func (d *Directory) Lookup(ctx context.Context, userID string) (Profile, bool, error) {
	if cached, found := d.cache.Get(userID); found {
		return cached.(Profile), true, nil
	}
	v, err, _ := d.group.Do(userID, func() (any, error) {
		var p Profile
		if errGet := kv.GetJSON(ctx, d.store, ProfileKey(userID), &p); errGet != nil {
			return nil, errGet
		}
		d.cache.SetDefault(userID, p)
		return p, nil
	})
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Profile{}, false, nil
		}
		return Profile{}, false, err
	}
	return v.(Profile), true, nil
}

// Ensure creates the profile of a verified identity when missing and refreshes a changed email.
// A stored name is never overwritten; names change only through SetName.
func (d *Directory) Ensure(ctx context.Context, id Identity) (Profile, error) {
	existing, ok, err := d.Lookup(ctx, id.UserID)
	if err != nil {
		return Profile{}, err
	}
	if ok && (id.Email == "" || existing.Email == id.Email) {
		return existing, nil
	}
	p := existing
	if !ok {
		p = Profile{
			ID:        id.UserID,
			Name:      displayName(id.DisplayName, id.Email),
			CreatedAt: d.now(),
		}
	}
	if id.Email != "" {
		p.Email = id.Email
	}
	if errSet := d.put(ctx, p); errSet != nil {
		return Profile{}, errSet
	}
	return p, nil
}

// SetName stores a new display name for userID.
func (d *Directory) SetName(ctx context.Context, userID, name string) (Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Profile{}, fmt.Errorf("identity: empty name")
	}
	p, ok, err := d.Lookup(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	if !ok {
		p = Profile{ID: userID, CreatedAt: d.now()}
	}
	p.Name = name
	if errSet := d.put(ctx, p); errSet != nil {
		return Profile{}, errSet
	}
	return p, nil
}

func (d *Directory) put(ctx context.Context, p Profile) error {
	if err := kv.SetJSON(ctx, d.store, ProfileKey(p.ID), p); err != nil {
		d.cache.Delete(p.ID)
		return err
	}
	d.cache.SetDefault(p.ID, p)
	return nil
}
