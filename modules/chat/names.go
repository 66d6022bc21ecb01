package chat

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	user "github.com/yuka166/chatapp-server/domain/user"
	"golang.org/x/sync/singleflight"
)

// lookupTimeout bounds a shared directory lookup, which runs detached from
// the cancellation of the caller that started it.
const lookupTimeout = 10 * time.Second

// Directory looks up user profiles in the identity module.
type Directory interface {
	GetUsers(ctx context.Context, userIDs []string) ([]user.Profile, error)
}

// NameCache is a read-through cache of usernames keyed by user ID.
type NameCache interface {
	GetNames(ctx context.Context, userIDs []string) (map[string]string, error)
	SetNames(ctx context.Context, names map[string]string) error
}

// NameResolver maps user IDs to usernames with one batched directory call
// per cache miss set. Concurrent identical misses share one lookup.
type NameResolver struct {
	directory Directory
	cache     NameCache
	group     singleflight.Group
	logger    types.Logger
}

// NewNameResolver creates a NameResolver. cache may be nil.
func NewNameResolver(directory Directory, cache NameCache, logger types.Logger) *NameResolver {
	return &NameResolver{
		directory: directory,
		cache:     cache,
		logger:    logger,
	}
}

// Resolve returns the usernames of the users among userIDs that exist.
func (r *NameResolver) Resolve(ctx context.Context, userIDs []string) (map[string]string, error) {
	ids := uniqueSorted(userIDs)
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	if r.cache != nil {
		cached, err := r.cache.GetNames(ctx, ids)
		if err != nil {
			r.logger.Warn("Username cache read failed", "error", err)
		}
		for id, name := range cached {
			names[id] = name
		}
	}

	var missing []string
	for _, id := range ids {
		if _, ok := names[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return names, nil
	}

	v, err, _ := r.group.Do(strings.Join(missing, ","), func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()

		profiles, err := r.directory.GetUsers(ctx, missing)
		if err != nil {
			return nil, err
		}
		found := make(map[string]string, len(profiles))
		for _, p := range profiles {
			found[p.ID] = p.Username
		}
		if r.cache != nil && len(found) > 0 {
			if err := r.cache.SetNames(ctx, found); err != nil {
				r.logger.Warn("Username cache write failed", "error", err)
			}
		}
		return found, nil
	})
	if err != nil {
		return nil, err
	}

	for id, name := range v.(map[string]string) {
		names[id] = name
	}
	return names, nil
}

func uniqueSorted(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
