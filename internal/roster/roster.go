// ABOUTME: User roster with name search and online filtering
// ABOUTME: Backs the client's user list and peer lookup by id or name

package roster

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/2389/coven-chat/internal/chat"
)

// Lister fetches every registered user.
type Lister interface {
	Users(ctx context.Context) ([]chat.User, error)
}

// Presence answers whether a user is online.
type Presence interface {
	IsOnline(userID string) bool
}

// Filter narrows the roster.
type Filter struct {
	// Query matches display names case-insensitively as a substring.
	Query string
	// OnlineOnly keeps only users the presence source reports online.
	OnlineOnly bool
}

// Roster is the cached user list.
type Roster struct {
	mu          sync.RWMutex
	users       []chat.User
	lister      Lister
	localUserID string
	logger      *slog.Logger
}

// New creates an empty roster. Pass nil logger for default.
func New(lister Lister, localUserID string, logger *slog.Logger) *Roster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Roster{
		lister:      lister,
		localUserID: localUserID,
		logger:      logger.With("component", "roster"),
	}
}

// Load replaces the roster with the server's user list, sorted by display
// name. On error the previous list is kept.
func (r *Roster) Load(ctx context.Context) error {
	users, err := r.lister.Users(ctx)
	if err != nil {
		return fmt.Errorf("loading users: %w", err)
	}

	users = lo.Filter(users, func(u chat.User, _ int) bool {
		return u.ID != "" && u.ID != r.localUserID
	})
	users = lo.UniqBy(users, func(u chat.User) string { return u.ID })
	slices.SortFunc(users, func(a, b chat.User) int {
		return cmp.Or(
			cmp.Compare(strings.ToLower(displayName(a)), strings.ToLower(displayName(b))),
			cmp.Compare(a.ID, b.ID),
		)
	})

	r.mu.Lock()
	r.users = users
	r.mu.Unlock()

	r.logger.Debug("roster loaded", "users", len(users))
	return nil
}

// Users returns a copy of the roster.
func (r *Roster) Users() []chat.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.users)
}

// Filter returns the users matching f. presence may be nil when OnlineOnly
// is false.
func (r *Roster) Filter(f Filter, presence Presence) []chat.User {
	query := strings.ToLower(strings.TrimSpace(f.Query))

	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Filter(r.users, func(u chat.User, _ int) bool {
		if query != "" && !strings.Contains(strings.ToLower(displayName(u)), query) {
			return false
		}
		return !f.OnlineOnly || (presence != nil && presence.IsOnline(u.ID))
	})
}

// OnlineCount returns how many roster users are online.
func (r *Roster) OnlineCount(presence Presence) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.CountBy(r.users, func(u chat.User) bool { return presence.IsOnline(u.ID) })
}

// Lookup finds a user by exact id, then by case-insensitive display name.
func (r *Roster) Lookup(key string) (chat.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if u, ok := lo.Find(r.users, func(u chat.User) bool { return u.ID == key }); ok {
		return u, true
	}
	return lo.Find(r.users, func(u chat.User) bool { return strings.EqualFold(u.DisplayName, key) })
}

// Name returns the display name for id, or id itself when unknown.
func (r *Roster) Name(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := lo.Find(r.users, func(u chat.User) bool { return u.ID == id }); ok {
		return displayName(u)
	}
	return id
}

func displayName(u chat.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.ID
}
