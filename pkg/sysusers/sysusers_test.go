package sysusers

import (
	"errors"
	"os/user"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkterrors "github.com/glorpus-work/pakt/pkg/errors"
)

func TestLookup(t *testing.T) {
	current, err := user.Current()
	require.NoError(t, err)

	r := NewResolver()
	account, err := r.Lookup(current.Username)
	require.NoError(t, err)
	assert.Equal(t, current.Username, account.Name)
	assert.Equal(t, current.HomeDir, account.Home)

	// Cached lookups return the same instance.
	again, err := r.Lookup(current.Username)
	require.NoError(t, err)
	assert.Same(t, account, again)
}

func TestLookupUnknown(t *testing.T) {
	r := NewResolver()
	_, err := r.Lookup("no-such-user-pakt-test")
	require.Error(t, err)
	assert.True(t, errors.Is(err, pkterrors.ErrNoSuchUser))
}

func TestCurrent(t *testing.T) {
	r := NewResolver()
	account, err := r.Current()
	require.NoError(t, err)
	assert.NotEmpty(t, account.Name)

	// A subsequent Lookup by name hits the cache.
	again, err := r.Lookup(account.Name)
	require.NoError(t, err)
	assert.Same(t, account, again)
}
