package rbac

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// CacheObserver records cache effectiveness; observability.Metrics implements it
type CacheObserver interface {
	CacheHit(layer, kind string)
	CacheMiss(layer, kind string)
}

type roleKey struct {
	roleID    int64
	projectID int64
}

// loadTimeout bounds a coalesced backend lookup, which runs detached from the
// request that started it
const loadTimeout = 10 * time.Second

// CachedStore is an in-process read-through cache in front of another Storage.
// Only found rows are cached, so new memberships are visible immediately; writers
// must call the Invalidator methods after changing or removing rows.
//
// Every invalidation bumps a generation. A lookup only stores its result when the
// generation is unchanged since the lookup started, so a row read before a change
// is never cached after the change was invalidated.
type CachedStore struct {
	next        Storage
	users       *lru.LRU[int64, User]
	memberships *lru.LRU[membershipKey, Membership]
	roles       *lru.LRU[roleKey, Role]
	group       singleflight.Group
	observer    CacheObserver

	mu  sync.Mutex
	gen uint64
}

// NewCachedStore wraps next with LRU caches of size entries each, expiring after ttl
func NewCachedStore(next Storage, size int, ttl time.Duration, observer CacheObserver) *CachedStore {
	if size < 16 {
		size = 16
	}
	return &CachedStore{
		next:        next,
		users:       lru.NewLRU[int64, User](size, nil, ttl),
		memberships: lru.NewLRU[membershipKey, Membership](size, nil, ttl),
		roles:       lru.NewLRU[roleKey, Role](size, nil, ttl),
		observer:    observer,
	}
}

// GetUser implements Storage
func (c *CachedStore) GetUser(ctx context.Context, userID int64) (*User, error) {
	if u, ok := c.users.Get(userID); ok {
		c.hit("user")
		return &u, nil
	}
	c.miss("user")

	return load(ctx, c, fmt.Sprintf("user:%d", userID),
		func(ctx context.Context) (*User, error) { return c.next.GetUser(ctx, userID) },
		func(u User) { c.users.Add(userID, u) },
	)
}

// GetMembership implements Storage
func (c *CachedStore) GetMembership(ctx context.Context, userID, projectID int64) (*Membership, error) {
	key := membershipKey{userID, projectID}
	if m, ok := c.memberships.Get(key); ok {
		c.hit("membership")
		return &m, nil
	}
	c.miss("membership")

	return load(ctx, c, fmt.Sprintf("membership:%d:%d", projectID, userID),
		func(ctx context.Context) (*Membership, error) { return c.next.GetMembership(ctx, userID, projectID) },
		func(m Membership) { c.memberships.Add(key, m) },
	)
}

// GetRole implements Storage
func (c *CachedStore) GetRole(ctx context.Context, roleID, projectID int64) (*Role, error) {
	key := roleKey{roleID, projectID}
	if r, ok := c.roles.Get(key); ok {
		c.hit("role")
		return &r, nil
	}
	c.miss("role")

	return load(ctx, c, fmt.Sprintf("role:%d:%d", projectID, roleID),
		func(ctx context.Context) (*Role, error) { return c.next.GetRole(ctx, roleID, projectID) },
		func(r Role) { c.roles.Add(key, r) },
	)
}

// load coalesces concurrent misses for key into one backend lookup. The lookup
// is detached from ctx so a cancelled caller does not fail the callers sharing it;
// each caller still stops waiting when its own ctx is done. Lookups started in
// different generations never share a result.
func load[T any](ctx context.Context, c *CachedStore, key string, fetch func(context.Context) (*T, error), add func(T)) (*T, error) {
	gen := c.generation()
	ch := c.group.DoChan(fmt.Sprintf("%s@%d", key, gen), func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		v, err := fetch(loadCtx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == gen {
			add(*v)
		}
		c.mu.Unlock()
		return *v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		v := res.Val.(T)
		return &v, nil
	}
}

func (c *CachedStore) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// invalidate bumps the generation and runs drop while holding the lock, so no
// lookup can store a result between the two
func (c *CachedStore) invalidate(drop func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	drop()
}

// GetRoleByID is not cached; it only backs role previews
func (c *CachedStore) GetRoleByID(ctx context.Context, roleID int64) (*Role, error) {
	return c.next.GetRoleByID(ctx, roleID)
}

// InvalidateUser drops the user and all of their memberships
func (c *CachedStore) InvalidateUser(_ context.Context, userID int64) error {
	c.invalidate(func() {
		c.users.Remove(userID)
		for _, key := range c.memberships.Keys() {
			if key.userID == userID {
				c.memberships.Remove(key)
			}
		}
	})
	return nil
}

// InvalidateMembership drops one membership
func (c *CachedStore) InvalidateMembership(_ context.Context, userID, projectID int64) error {
	c.invalidate(func() {
		c.memberships.Remove(membershipKey{userID, projectID})
	})
	return nil
}

// InvalidateProject drops every membership and role of projectID
func (c *CachedStore) InvalidateProject(_ context.Context, projectID int64) error {
	c.invalidate(func() {
		for _, key := range c.memberships.Keys() {
			if key.projectID == projectID {
				c.memberships.Remove(key)
			}
		}
		for _, key := range c.roles.Keys() {
			if key.projectID == projectID {
				c.roles.Remove(key)
			}
		}
	})
	return nil
}

func (c *CachedStore) hit(kind string) {
	if c.observer != nil {
		c.observer.CacheHit("l1", kind)
	}
}

func (c *CachedStore) miss(kind string) {
	if c.observer != nil {
		c.observer.CacheMiss("l1", kind)
	}
}

// Invalidators fans invalidation out to every cache layer, returning all failures
type Invalidators []Invalidator

// InvalidateUser implements Invalidator
func (is Invalidators) InvalidateUser(ctx context.Context, userID int64) error {
	var errs []error
	for _, inv := range is {
		errs = append(errs, inv.InvalidateUser(ctx, userID))
	}
	return errors.Join(errs...)
}

// InvalidateMembership implements Invalidator
func (is Invalidators) InvalidateMembership(ctx context.Context, userID, projectID int64) error {
	var errs []error
	for _, inv := range is {
		errs = append(errs, inv.InvalidateMembership(ctx, userID, projectID))
	}
	return errors.Join(errs...)
}

// InvalidateProject implements Invalidator
func (is Invalidators) InvalidateProject(ctx context.Context, projectID int64) error {
	var errs []error
	for _, inv := range is {
		errs = append(errs, inv.InvalidateProject(ctx, projectID))
	}
	return errors.Join(errs...)
}
