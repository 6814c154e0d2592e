package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/pakt/pkg/database"
	"github.com/glorpus-work/pakt/pkg/errors"
	"github.com/glorpus-work/pakt/pkg/sysusers"
)

// newFixture builds a database stack with the given number of layers,
// bottommost first, each under its own temp root.
func newFixture(t *testing.T, layers int) (*database.MultiDB, []string) {
	t.Helper()
	db := database.NewMultiDB("pakt", sysusers.NewResolver(), nil)
	roots := make([]string, 0, layers)
	for i := 0; i < layers; i++ {
		root := t.TempDir()
		db.Add(root)
		roots = append(roots, root)
	}
	return db, roots
}

// unpack deposits an empty version directory, the way the native installer
// step would.
func unpack(t *testing.T, root, pkg, version string) string {
	t.Helper()
	dir := filepath.Join(root, pkg, version)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}

// register plants a raw registration symlink without going through the
// registry, for fixture setup.
func register(t *testing.T, root, user, pkg, target string) {
	t.Helper()
	dir := database.UserDir(root, user)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.Symlink(target, filepath.Join(dir, pkg)))
}

type recordedEvent struct {
	op, pkg, oldVersion, newVersion, user string
}

type fakeEvents struct {
	events []recordedEvent
}

func (f *fakeEvents) PackageInstallHooks(pkg, oldVersion, newVersion, user string) error {
	f.events = append(f.events, recordedEvent{"install", pkg, oldVersion, newVersion, user})
	return nil
}

func (f *fakeEvents) PackageRemoveHooks(pkg, oldVersion, user string) error {
	f.events = append(f.events, recordedEvent{"remove", pkg, oldVersion, "", user})
	return nil
}

func TestSetVersion(t *testing.T) {
	db, roots := newFixture(t, 1)
	target := unpack(t, roots[0], "com.example.foo", "1.0")
	users := NewUsers(db, sysusers.NewResolver(), "pakt")
	alice := users.User("alice")

	require.NoError(t, alice.SetVersion("com.example.foo", "1.0"))

	linkPath := filepath.Join(database.UserDir(roots[0], "alice"), "com.example.foo")
	got, err := os.Readlink(linkPath)
	require.NoError(t, err)
	assert.Equal(t, target, got)

	version, err := alice.Version("com.example.foo")
	require.NoError(t, err)
	assert.Equal(t, "1.0", version)

	t.Run("NoOpWhenAlreadyCurrent", func(t *testing.T) {
		before, err := os.Lstat(linkPath)
		require.NoError(t, err)
		require.NoError(t, alice.SetVersion("com.example.foo", "1.0"))
		after, err := os.Lstat(linkPath)
		require.NoError(t, err)
		assert.Equal(t, before.ModTime(), after.ModTime())
	})

	t.Run("UpgradeRelinks", func(t *testing.T) {
		newTarget := unpack(t, roots[0], "com.example.foo", "2.0")
		require.NoError(t, alice.SetVersion("com.example.foo", "2.0"))
		got, err := os.Readlink(linkPath)
		require.NoError(t, err)
		assert.Equal(t, newTarget, got)
	})

	t.Run("MissingVersion", func(t *testing.T) {
		err := alice.SetVersion("com.example.foo", "9.9")
		assert.ErrorIs(t, err, errors.ErrDoesNotExist)
	})

	t.Run("NoTransientLeftBehind", func(t *testing.T) {
		entries, err := os.ReadDir(database.UserDir(roots[0], "alice"))
		require.NoError(t, err)
		for _, entry := range entries {
			assert.NotContains(t, entry.Name(), ".new")
		}
	})
}

func TestResolutionPrecedence(t *testing.T) {
	// Layers: roots[0] is the bottom, roots[2] the writable overlay.
	db, roots := newFixture(t, 3)
	bottom := unpack(t, roots[0], "pkg", "1.0")
	middle := unpack(t, roots[1], "pkg", "2.0")
	top := unpack(t, roots[2], "pkg", "3.0")
	users := NewUsers(db, sysusers.NewResolver(), "pakt")

	t.Run("TopmostLayerWins", func(t *testing.T) {
		register(t, roots[0], "u1", "pkg", bottom)
		register(t, roots[2], "u1", "pkg", top)
		version, err := users.User("u1").Version("pkg")
		require.NoError(t, err)
		assert.Equal(t, "3.0", version)
	})

	t.Run("OwnEntryBeforeAllUsers", func(t *testing.T) {
		register(t, roots[1], "u2", "pkg", middle)
		register(t, roots[1], database.AllUsers, "pkg", bottom)
		version, err := users.User("u2").Version("pkg")
		require.NoError(t, err)
		assert.Equal(t, "2.0", version)
	})

	t.Run("AllUsersFallback", func(t *testing.T) {
		version, err := users.User("u3").Version("pkg")
		require.NoError(t, err)
		// @all registered at layer 1 from the previous subtest.
		assert.Equal(t, "1.0", version)
	})

	t.Run("HiddenShortCircuits", func(t *testing.T) {
		// u4 has a hidden sentinel in the overlay; the valid @all
		// registration at a lower layer must not resurrect the package.
		register(t, roots[2], "u4", "pkg", database.HiddenVersion)
		_, err := users.User("u4").Version("pkg")
		assert.ErrorIs(t, err, errors.ErrHiddenPackage)
	})

	t.Run("HiddenAllUsers", func(t *testing.T) {
		db2, roots2 := newFixture(t, 1)
		unpack(t, roots2[0], "pkg", "1.0")
		register(t, roots2[0], database.AllUsers, "pkg", database.HiddenVersion)
		users2 := NewUsers(db2, sysusers.NewResolver(), "pakt")
		_, err := users2.User("anyone").Version("pkg")
		assert.ErrorIs(t, err, errors.ErrHiddenPackage)
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := users.User("u1").Version("no.such.pkg")
		assert.ErrorIs(t, err, errors.ErrDoesNotExist)
	})
}

func TestRemove(t *testing.T) {
	t.Run("OwnRegistrationIsUnlinked", func(t *testing.T) {
		db, roots := newFixture(t, 1)
		unpack(t, roots[0], "pkg", "1.0")
		users := NewUsers(db, sysusers.NewResolver(), "pakt")
		alice := users.User("alice")
		require.NoError(t, alice.SetVersion("pkg", "1.0"))

		require.NoError(t, alice.Remove("pkg"))
		linkPath := filepath.Join(database.UserDir(roots[0], "alice"), "pkg")
		assert.False(t, fileExists(linkPath))
		_, err := alice.Version("pkg")
		assert.ErrorIs(t, err, errors.ErrDoesNotExist)
	})

	t.Run("InheritedRegistrationIsHidden", func(t *testing.T) {
		db, roots := newFixture(t, 1)
		target := unpack(t, roots[0], "pkg", "1.0")
		register(t, roots[0], database.AllUsers, "pkg", target)
		users := NewUsers(db, sysusers.NewResolver(), "pakt")
		bob := users.User("bob")

		require.NoError(t, bob.Remove("pkg"))

		linkPath := filepath.Join(database.UserDir(roots[0], "bob"), "pkg")
		got, err := os.Readlink(linkPath)
		require.NoError(t, err)
		assert.Equal(t, database.HiddenVersion, got)

		_, err = bob.Version("pkg")
		assert.ErrorIs(t, err, errors.ErrHiddenPackage)

		// Other users keep seeing the @all registration.
		version, err := users.User("carol").Version("pkg")
		require.NoError(t, err)
		assert.Equal(t, "1.0", version)
	})

	t.Run("AbsentPackage", func(t *testing.T) {
		db, _ := newFixture(t, 1)
		users := NewUsers(db, sysusers.NewResolver(), "pakt")
		err := users.User("alice").Remove("pkg")
		assert.ErrorIs(t, err, errors.ErrDoesNotExist)
	})
}

func TestPackageNames(t *testing.T) {
	db, roots := newFixture(t, 2)
	bottomA := unpack(t, roots[0], "aaa", "1.0")
	unpack(t, roots[0], "bbb", "1.0")
	bottomB := filepath.Join(roots[0], "bbb", "1.0")
	topC := unpack(t, roots[1], "ccc", "1.0")

	register(t, roots[0], "alice", "aaa", bottomA)
	register(t, roots[0], database.AllUsers, "bbb", bottomB)
	register(t, roots[1], "alice", "ccc", topC)
	// bbb hidden for alice in the overlay.
	register(t, roots[1], "alice", "bbb", database.HiddenVersion)

	users := NewUsers(db, sysusers.NewResolver(), "pakt")
	names, err := users.User("alice").PackageNames()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"aaa", "ccc"}, names)

	// carol is not affected by alice's sentinel.
	names, err = users.User("carol").PackageNames()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bbb"}, names)
}

func TestIsRemovable(t *testing.T) {
	db, roots := newFixture(t, 1)
	target := unpack(t, roots[0], "own", "1.0")
	allTarget := unpack(t, roots[0], "shared", "1.0")
	users := NewUsers(db, sysusers.NewResolver(), "pakt")
	alice := users.User("alice")

	require.NoError(t, alice.SetVersion("own", "1.0"))
	register(t, roots[0], database.AllUsers, "shared", allTarget)
	register(t, roots[0], "alice", "hidden-one", database.HiddenVersion)
	_ = target

	assert.True(t, alice.IsRemovable("own"))
	assert.True(t, alice.IsRemovable("shared"))
	assert.False(t, alice.IsRemovable("hidden-one"))
	assert.False(t, alice.IsRemovable("absent"))
}

func TestHookEvents(t *testing.T) {
	db, roots := newFixture(t, 1)
	unpack(t, roots[0], "pkg", "1.0")
	unpack(t, roots[0], "pkg", "2.0")
	users := NewUsers(db, sysusers.NewResolver(), "pakt")
	events := &fakeEvents{}
	users.SetEvents(events)

	alice := users.User("alice")
	require.NoError(t, alice.SetVersion("pkg", "1.0"))
	require.NoError(t, alice.SetVersion("pkg", "2.0"))
	require.NoError(t, alice.Remove("pkg"))

	require.Len(t, events.events, 3)
	assert.Equal(t, recordedEvent{"install", "pkg", "", "1.0", "alice"}, events.events[0])
	assert.Equal(t, recordedEvent{"install", "pkg", "1.0", "2.0", "alice"}, events.events[1])
	assert.Equal(t, recordedEvent{"remove", "pkg", "2.0", "", "alice"}, events.events[2])
}

func TestPseudoUserSkipsHooks(t *testing.T) {
	db, roots := newFixture(t, 1)
	unpack(t, roots[0], "pkg", "1.0")
	users := NewUsers(db, sysusers.NewResolver(), "pakt")
	events := &fakeEvents{}
	users.SetEvents(events)

	require.NoError(t, users.AllUsers().SetVersion("pkg", "1.0"))
	assert.Empty(t, events.events)
}

func TestUsersNames(t *testing.T) {
	db, roots := newFixture(t, 2)
	target := unpack(t, roots[0], "pkg", "1.0")
	register(t, roots[0], "alice", "pkg", target)
	register(t, roots[1], "bob", "pkg", target)
	register(t, roots[1], "alice", "pkg", target)

	users := NewUsers(db, sysusers.NewResolver(), "pakt")
	names, err := users.Names()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, names)

	_, err = users.Get("alice")
	assert.NoError(t, err)
	_, err = users.Get("mallory")
	assert.ErrorIs(t, err, errors.ErrDoesNotExist)
}

func TestUserViewShared(t *testing.T) {
	db, _ := newFixture(t, 1)
	users := NewUsers(db, sysusers.NewResolver(), "pakt")

	// Every lookup of one name yields the same view, so nested operations
	// share one privilege guard and its nesting count.
	first := users.User("alice")
	assert.Same(t, first, users.User("alice"))

	g1, err := first.Guard()
	require.NoError(t, err)
	g2, err := users.User("alice").Guard()
	require.NoError(t, err)
	assert.Same(t, g1, g2)
}

func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
