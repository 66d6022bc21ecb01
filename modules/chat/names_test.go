package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	user "github.com/yuka166/chatapp-server/domain/user"
)

type memoryNameCache struct {
	mu      sync.Mutex
	names   map[string]string
	readErr error
}

func newMemoryNameCache() *memoryNameCache {
	return &memoryNameCache{names: make(map[string]string)}
}

func (c *memoryNameCache) GetNames(_ context.Context, ids []string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	out := make(map[string]string)
	for _, id := range ids {
		if name, ok := c.names[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func (c *memoryNameCache) SetNames(_ context.Context, names map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, name := range names {
		c.names[id] = name
	}
	return nil
}

func TestNameResolver_Resolve(t *testing.T) {
	dir := newFakeDirectory("alice", "bob")
	resolver := NewNameResolver(dir, nil, &mockLogger{})

	names, err := resolver.Resolve(context.Background(), []string{"bob", "alice", "bob", "", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alice": "alice-name", "bob": "bob-name"}, names)
	assert.Equal(t, 1, dir.callCount())
}

func TestNameResolver_Empty(t *testing.T) {
	dir := newFakeDirectory()
	resolver := NewNameResolver(dir, nil, &mockLogger{})

	names, err := resolver.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Zero(t, dir.callCount())
}

func TestNameResolver_UsesCache(t *testing.T) {
	dir := newFakeDirectory("alice", "bob")
	cache := newMemoryNameCache()
	resolver := NewNameResolver(dir, cache, &mockLogger{})
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, dir.callCount())
	assert.Equal(t, "alice-name", cache.names["alice"])

	names, err := resolver.Resolve(ctx, []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice-name", names["alice"])
	assert.Equal(t, 1, dir.callCount(), "cached names skip the directory")

	names, err = resolver.Resolve(ctx, []string{"alice", "bob"})
	require.NoError(t, err)
	assert.Len(t, names, 2)
	assert.Equal(t, 2, dir.callCount())
}

func TestNameResolver_CacheReadFailure(t *testing.T) {
	dir := newFakeDirectory("alice")
	cache := newMemoryNameCache()
	cache.readErr = errors.New("connection refused")
	resolver := NewNameResolver(dir, cache, &mockLogger{})

	names, err := resolver.Resolve(context.Background(), []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice-name", names["alice"])
}

func TestNameResolver_DirectoryFailure(t *testing.T) {
	dir := newFakeDirectory("alice")
	dir.err = errors.New("identity down")
	resolver := NewNameResolver(dir, nil, &mockLogger{})

	_, err := resolver.Resolve(context.Background(), []string{"alice"})
	assert.Error(t, err)
}

// gatedDirectory blocks every lookup until release is closed and fails if
// the lookup context was cancelled meanwhile.
type gatedDirectory struct {
	entered chan struct{}
	release chan struct{}
}

func (d *gatedDirectory) GetUsers(ctx context.Context, ids []string) ([]user.Profile, error) {
	close(d.entered)
	<-d.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]user.Profile, 0, len(ids))
	for _, id := range ids {
		out = append(out, user.Profile{ID: id, Username: id + "-name"})
	}
	return out, nil
}

func TestNameResolver_SharedLookupOutlivesCaller(t *testing.T) {
	dir := &gatedDirectory{entered: make(chan struct{}), release: make(chan struct{})}
	resolver := NewNameResolver(dir, nil, &mockLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		names map[string]string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		names, err := resolver.Resolve(ctx, []string{"alice"})
		done <- result{names, err}
	}()

	<-dir.entered
	cancel()
	close(dir.release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, map[string]string{"alice": "alice-name"}, res.names)
}
