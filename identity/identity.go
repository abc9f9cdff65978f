// Package identity resolves numeric owner ids to account names.
package identity

import (
	"errors"
	"fmt"
	"os/user"
	"strconv"
	"sync"

	"driftwatch/failure"
)

// Resolver maps uid/gid values to symbolic names.
type Resolver interface {
	UserName(uid uint32) (string, error)
	GroupName(gid uint32) (string, error)
}

// Names resolves both ids, falling back to the numeric id as a string. The
// returned errors describe each lookup that fell back.
func Names(r Resolver, uid, gid uint32) (owner, group string, errs []error) {
	owner = strconv.FormatUint(uint64(uid), 10)
	group = strconv.FormatUint(uint64(gid), 10)
	if r == nil {
		return owner, group, nil
	}
	if name, err := r.UserName(uid); err == nil && name != "" {
		owner = name
	} else {
		errs = append(errs, failure.New(failure.IdentityLookupFailed, "", fmt.Errorf("uid %d: %w", uid, orUnknown(err))))
	}
	if name, err := r.GroupName(gid); err == nil && name != "" {
		group = name
	} else {
		errs = append(errs, failure.New(failure.IdentityLookupFailed, "", fmt.Errorf("gid %d: %w", gid, orUnknown(err))))
	}
	return owner, group, errs
}

var errUnknownID = errors.New("no such id")

func orUnknown(err error) error {
	if err == nil {
		return errUnknownID
	}
	return err
}

type cacheEntry struct {
	name string
	err  error
}

// cached memoizes lookups, including misses; safe for concurrent use.
type cached struct {
	next   Resolver
	mu     sync.Mutex
	users  map[uint32]cacheEntry
	groups map[uint32]cacheEntry
}

// Cached wraps r so each id is looked up at most once.
func Cached(r Resolver) Resolver {
	return &cached{next: r, users: map[uint32]cacheEntry{}, groups: map[uint32]cacheEntry{}}
}

func (c *cached) UserName(uid uint32) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.users[uid]; ok {
		return e.name, e.err
	}
	name, err := c.next.UserName(uid)
	c.users[uid] = cacheEntry{name, err}
	return name, err
}

func (c *cached) GroupName(gid uint32) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.groups[gid]; ok {
		return e.name, e.err
	}
	name, err := c.next.GroupName(gid)
	c.groups[gid] = cacheEntry{name, err}
	return name, err
}

type system struct{}

// NewSystemResolver uses the host identity database through os/user.
func NewSystemResolver() Resolver {
	return Cached(system{})
}

func (system) UserName(uid uint32) (string, error) {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

func (system) GroupName(gid uint32) (string, error) {
	g, err := user.LookupGroupId(strconv.FormatUint(uint64(gid), 10))
	if err != nil {
		return "", err
	}
	return g.Name, nil
}

// Static resolves from fixed maps. Ids absent from the maps fail lookup.
type Static struct {
	Users  map[uint32]string
	Groups map[uint32]string
}

func (s Static) UserName(uid uint32) (string, error) {
	if name, ok := s.Users[uid]; ok {
		return name, nil
	}
	return "", user.UnknownUserIdError(int(uid))
}

func (s Static) GroupName(gid uint32) (string, error) {
	if name, ok := s.Groups[gid]; ok {
		return name, nil
	}
	return "", user.UnknownGroupIdError(strconv.FormatUint(uint64(gid), 10))
}
