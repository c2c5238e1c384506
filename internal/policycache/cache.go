// Package policycache memoizes policy lookups for the length of a TTL so a
// reminder pass does not reload the same policy for every obligation.
package policycache

import (
	"context"
	"fmt"
	"time"

	ca "github.com/patrickmn/go-cache"

	"github.com/djlord-it/easy-remind/internal/domain"
)

// Store is the policy lookup being decorated.
type Store interface {
	GetReminderPolicy(ctx context.Context, orgID, id int64) (domain.ReminderPolicy, error)
	GetDefaultReminderPolicy(ctx context.Context, orgID int64) (domain.ReminderPolicy, error)
	GetEscalationPolicy(ctx context.Context, orgID, id int64) (domain.EscalationPolicy, error)
}

// Cache implements Store. Errors, including domain.ErrNotFound, are never
// cached.
type Cache struct {
	next Store
	c    *ca.Cache
}

func New(next Store, ttl time.Duration) *Cache {
	return &Cache{
		next: next,
		c:    ca.New(ttl, 2*ttl),
	}
}

func reminderKey(orgID, id int64) string { return fmt.Sprintf("o:%d:rp:%d", orgID, id) }
func defaultKey(orgID int64) string      { return fmt.Sprintf("o:%d:rp:default", orgID) }
func escalationKey(orgID, id int64) string {
	return fmt.Sprintf("o:%d:ep:%d", orgID, id)
}

func (c *Cache) GetReminderPolicy(ctx context.Context, orgID, id int64) (domain.ReminderPolicy, error) {
	key := reminderKey(orgID, id)
	if v, ok := c.c.Get(key); ok {
		return v.(domain.ReminderPolicy), nil
	}
	p, err := c.next.GetReminderPolicy(ctx, orgID, id)
	if err != nil {
		return p, err
	}
	c.c.SetDefault(key, p)
	return p, nil
}

func (c *Cache) GetDefaultReminderPolicy(ctx context.Context, orgID int64) (domain.ReminderPolicy, error) {
	key := defaultKey(orgID)
	if v, ok := c.c.Get(key); ok {
		return v.(domain.ReminderPolicy), nil
	}
	p, err := c.next.GetDefaultReminderPolicy(ctx, orgID)
	if err != nil {
		return p, err
	}
	c.c.SetDefault(key, p)
	return p, nil
}

func (c *Cache) GetEscalationPolicy(ctx context.Context, orgID, id int64) (domain.EscalationPolicy, error) {
	key := escalationKey(orgID, id)
	if v, ok := c.c.Get(key); ok {
		return v.(domain.EscalationPolicy), nil
	}
	p, err := c.next.GetEscalationPolicy(ctx, orgID, id)
	if err != nil {
		return p, err
	}
	c.c.SetDefault(key, p)
	return p, nil
}

// Flush drops every cached policy.
func (c *Cache) Flush() {
	c.c.Flush()
}
