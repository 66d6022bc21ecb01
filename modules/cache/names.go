package cache

import (
	"context"
	"encoding/json"
)

const userNameKeyPrefix = "user:name:"

// UserNames caches usernames by user ID. It satisfies the chat module's
// NameCache.
type UserNames struct {
	cache *Cache
}

// NewUserNames creates a username cache on top of c.
func NewUserNames(c *Cache) *UserNames {
	return &UserNames{cache: c}
}

// GetNames returns the cached usernames among userIDs. Missing IDs are
// absent from the result.
func (u *UserNames) GetNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = userNameKeyPrefix + id
	}

	names := make(map[string]string, len(userIDs))
	err := u.cache.GetMany(ctx, keys, func(key string, data []byte) error {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		names[key[len(userNameKeyPrefix):]] = name
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// SetNames caches every entry of names.
func (u *UserNames) SetNames(ctx context.Context, names map[string]string) error {
	entries := make(map[string]any, len(names))
	for id, name := range names {
		entries[userNameKeyPrefix+id] = name
	}
	return u.cache.SetMany(ctx, entries)
}

