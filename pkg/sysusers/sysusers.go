// Package sysusers is the account directory service for the registry: name to
// uid/gid/home/supplementary-group resolution, with a per-Resolver cache so
// repeated hook and registration operations do not hit the passwd database
// over and over. The cache lives on the Resolver instance, not in package
// state, so independent registry contexts in one process stay isolated.
package sysusers

import (
	"os/user"
	"strconv"
	"sync"

	"github.com/glorpus-work/pakt/pkg/errors"
)

// Account is one resolved system account.
type Account struct {
	Name   string
	UID    int
	GID    int
	Home   string
	Groups []int
}

// Resolver looks up accounts and caches the results.
type Resolver struct {
	mu     sync.Mutex
	byName map[string]*Account
}

// NewResolver returns an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{byName: make(map[string]*Account)}
}

// Lookup resolves name to an Account, consulting the cache first.
func (r *Resolver) Lookup(name string) (*Account, error) {
	r.mu.Lock()
	if account, ok := r.byName[name]; ok {
		r.mu.Unlock()
		return account, nil
	}
	r.mu.Unlock()

	u, err := user.Lookup(name)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrNoSuchUser, "%q", name)
	}
	account, err := fromUser(u)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.byName[name] = account
	r.mu.Unlock()
	return account, nil
}

// Current resolves the account of the process's real uid.
func (r *Resolver) Current() (*Account, error) {
	u, err := user.Current()
	if err != nil {
		return nil, errors.Wrap(errors.ErrNoSuchUser, "current user")
	}
	r.mu.Lock()
	if account, ok := r.byName[u.Username]; ok {
		r.mu.Unlock()
		return account, nil
	}
	r.mu.Unlock()

	account, err := fromUser(u)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.byName[u.Username] = account
	r.mu.Unlock()
	return account, nil
}

func fromUser(u *user.User) (*Account, error) {
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrNoSuchUser, "non-numeric uid %q for %q", u.Uid, u.Username)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrNoSuchUser, "non-numeric gid %q for %q", u.Gid, u.Username)
	}
	account := &Account{
		Name: u.Username,
		UID:  uid,
		GID:  gid,
		Home: u.HomeDir,
	}
	// Supplementary groups matter only for privilege-dropped hook commands;
	// an account without resolvable groups is still usable.
	if ids, err := u.GroupIds(); err == nil {
		for _, id := range ids {
			if gid, err := strconv.Atoi(id); err == nil {
				account.Groups = append(account.Groups, gid)
			}
		}
	}
	return account, nil
}
