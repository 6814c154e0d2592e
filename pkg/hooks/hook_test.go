package hooks

import (
	"encoding/json"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glorpus-work/pakt/pkg/database"
	"github.com/glorpus-work/pakt/pkg/errors"
	"github.com/glorpus-work/pakt/pkg/fsutil"
	"github.com/glorpus-work/pakt/pkg/manifest"
	"github.com/glorpus-work/pakt/pkg/paths"
	"github.com/glorpus-work/pakt/pkg/sysusers"
)

type fixture struct {
	t        *testing.T
	engine   *Engine
	db       *database.MultiDB
	root     string
	hooksDir string
	linkDir  string
	service  string
}

// newEngineFixture builds a single-layer database and an engine reading hook
// definitions from a temp directory. The current account doubles as the
// service user so ownership checks resolve without privilege.
func newEngineFixture(t *testing.T) *fixture {
	t.Helper()
	current, err := user.Current()
	require.NoError(t, err)

	hooksDir := t.TempDir()
	linkDir := filepath.Join(t.TempDir(), "links")
	resolver := paths.NewResolverFor(t.TempDir(), hooksDir, t.TempDir(), current.Username)
	db := database.NewMultiDB(current.Username, sysusers.NewResolver(), nil)
	root := t.TempDir()
	db.Add(root)
	return &fixture{
		t:        t,
		engine:   NewEngine(db, resolver, sysusers.NewResolver()),
		db:       db,
		root:     root,
		hooksDir: hooksDir,
		linkDir:  linkDir,
		service:  current.Username,
	}
}

func (f *fixture) writeHook(name string, lines ...string) {
	f.t.Helper()
	body := strings.Join(lines, "\n") + "\n"
	path := filepath.Join(f.hooksDir, name+HookFileSuffix)
	require.NoError(f.t, os.WriteFile(path, []byte(body), 0o644))
}

// unpack deposits a version directory with a manifest declaring the given
// hook attachments.
func (f *fixture) unpack(pkg, version string, hooks map[string]map[string]string) string {
	f.t.Helper()
	dir := filepath.Join(f.root, pkg, version)
	m := map[string]interface{}{"name": pkg, "version": version}
	if hooks != nil {
		m["hooks"] = hooks
	}
	raw, err := json.Marshal(m)
	require.NoError(f.t, err)
	path := manifest.Path(dir, pkg)
	require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(f.t, os.WriteFile(path, raw, 0o644))
	return dir
}

func (f *fixture) links(dir string) []string {
	f.t.Helper()
	names, err := fsutil.ListDirSorted(dir)
	require.NoError(f.t, err)
	return names
}

func TestOpen(t *testing.T) {
	f := newEngineFixture(t)
	f.writeHook("desktop", "Pattern: "+filepath.Join(f.linkDir, "${id}.desktop"))

	hook, err := f.engine.Open("desktop")
	require.NoError(t, err)
	assert.Equal(t, "desktop", hook.Name())
	assert.Equal(t, "desktop", hook.HookName())
	assert.False(t, hook.UserLevel())
	assert.False(t, hook.SingleVersion())

	_, err = f.engine.Open("no-such")
	assert.ErrorIs(t, err, errors.ErrNoSuchHook)
}

func TestHookFields(t *testing.T) {
	f := newEngineFixture(t)
	f.writeHook("a-desktop",
		"Pattern: "+filepath.Join(f.linkDir, "a", "${id}.desktop"),
		"Hook-Name: desktop",
		"User-Level: yes")
	f.writeHook("bare")

	hook, err := f.engine.Open("a-desktop")
	require.NoError(t, err)
	assert.Equal(t, "desktop", hook.HookName())
	assert.True(t, hook.UserLevel())
	// User-level implies single-version.
	assert.True(t, hook.SingleVersion())

	bare, err := f.engine.Open("bare")
	require.NoError(t, err)
	_, err = bare.Pattern()
	assert.ErrorIs(t, err, errors.ErrMissingField)
	_, err = bare.RunAs()
	assert.ErrorIs(t, err, errors.ErrMissingField)
}

func TestOpenAllSharedHookName(t *testing.T) {
	f := newEngineFixture(t)
	f.writeHook("a-desktop",
		"Pattern: "+filepath.Join(f.linkDir, "a", "${id}.desktop"),
		"Hook-Name: desktop")
	f.writeHook("b-desktop",
		"Pattern: "+filepath.Join(f.linkDir, "b", "${id}.desktop"),
		"Hook-Name: desktop")
	f.writeHook("other",
		"Pattern: "+filepath.Join(f.linkDir, "other", "${id}"))

	all, err := f.engine.OpenAll("")
	require.NoError(t, err)
	require.Len(t, all, 3)

	shared, err := f.engine.OpenAll("desktop")
	require.NoError(t, err)
	require.Len(t, shared, 2)
	assert.Equal(t, "a-desktop", shared[0].Name())
	assert.Equal(t, "b-desktop", shared[1].Name())
}

func TestShortAppID(t *testing.T) {
	id, err := ShortAppID("com.example.foo", "bar")
	require.NoError(t, err)
	assert.Equal(t, "com.example.foo_bar", id)

	full, err := AppID("com.example.foo", "1.0", "bar")
	require.NoError(t, err)
	assert.Equal(t, "com.example.foo_bar_1.0", full)

	_, err = ShortAppID("pkg", "under_score")
	assert.ErrorIs(t, err, errors.ErrBadAppName)
	_, err = AppID("pkg", "1.0", "slash/y")
	assert.ErrorIs(t, err, errors.ErrBadAppName)
}

func TestInstallPackage(t *testing.T) {
	f := newEngineFixture(t)
	f.writeHook("desktop", "Pattern: "+filepath.Join(f.linkDir, "${id}.desktop"))
	dir := f.unpack("com.example.foo", "1.0", nil)

	hook, err := f.engine.Open("desktop")
	require.NoError(t, err)
	require.NoError(t, hook.InstallPackage("com.example.foo", "1.0", "bar", "files/bar.desktop", SystemScope{}))

	link := filepath.Join(f.linkDir, "com.example.foo_bar_1.0.desktop")
	got, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "files/bar.desktop"), got)

	// Installing the same thing again changes nothing.
	require.NoError(t, hook.InstallPackage("com.example.foo", "1.0", "bar", "files/bar.desktop", SystemScope{}))
	assert.Equal(t, []string{"com.example.foo_bar_1.0.desktop"}, f.links(f.linkDir))
}

func TestInstallPackageBadAppName(t *testing.T) {
	f := newEngineFixture(t)
	f.writeHook("desktop", "Pattern: "+filepath.Join(f.linkDir, "${id}.desktop"))
	f.unpack("com.example.foo", "1.0", nil)

	hook, err := f.engine.Open("desktop")
	require.NoError(t, err)
	err = hook.InstallPackage("com.example.foo", "1.0", "evil_app", "x.desktop", SystemScope{})
	assert.ErrorIs(t, err, errors.ErrBadAppName)
	// Rejected before anything touched the filesystem.
	assert.False(t, fsutil.Exists(f.linkDir))
}

func TestSingleVersionUpgrade(t *testing.T) {
	f := newEngineFixture(t)
	f.writeHook("desktop",
		"Pattern: "+filepath.Join(f.linkDir, "${id}.desktop"),
		"Single-Version: yes")
	f.unpack("com.example.foo", "1.0", nil)
	two := f.unpack("com.example.foo", "2.0", nil)

	hook, err := f.engine.Open("desktop")
	require.NoError(t, err)
	require.NoError(t, hook.InstallPackage("com.example.foo", "1.0", "bar", "bar.desktop", SystemScope{}))
	require.NoError(t, hook.InstallPackage("com.example.foo", "2.0", "bar", "bar.desktop", SystemScope{}))

	assert.Equal(t, []string{"com.example.foo_bar_2.0.desktop"}, f.links(f.linkDir))
	got, err := os.Readlink(filepath.Join(f.linkDir, "com.example.foo_bar_2.0.desktop"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(two, "bar.desktop"), got)
}

func TestSingleVersionShortID(t *testing.T) {
	f := newEngineFixture(t)
	f.writeHook("desktop",
		"Pattern: "+filepath.Join(f.linkDir, "${short-id}.desktop"),
		"Single-Version: yes")
	f.unpack("com.example.foo", "1.0", nil)
	two := f.unpack("com.example.foo", "2.0", nil)

	hook, err := f.engine.Open("desktop")
	require.NoError(t, err)
	require.NoError(t, hook.InstallPackage("com.example.foo", "1.0", "bar", "bar.desktop", SystemScope{}))
	require.NoError(t, hook.InstallPackage("com.example.foo", "2.0", "bar", "bar.desktop", SystemScope{}))

	// One versionless link, retargeted in place.
	assert.Equal(t, []string{"com.example.foo_bar.desktop"}, f.links(f.linkDir))
	got, err := os.Readlink(filepath.Join(f.linkDir, "com.example.foo_bar.desktop"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(two, "bar.desktop"), got)
}

func TestRemovePackage(t *testing.T) {
	f := newEngineFixture(t)
	f.writeHook("desktop", "Pattern: "+filepath.Join(f.linkDir, "${id}.desktop"))
	f.unpack("com.example.foo", "1.0", nil)

	hook, err := f.engine.Open("desktop")
	require.NoError(t, err)
	require.NoError(t, hook.InstallPackage("com.example.foo", "1.0", "bar", "bar.desktop", SystemScope{}))
	require.NoError(t, hook.RemovePackage("com.example.foo", "1.0", "bar", SystemScope{}))
	assert.Empty(t, f.links(f.linkDir))

	// Removing an absent link is not an error.
	require.NoError(t, hook.RemovePackage("com.example.foo", "1.0", "bar", SystemScope{}))
}

func TestSync(t *testing.T) {
	f := newEngineFixture(t)
	f.writeHook("desktop", "Pattern: "+filepath.Join(f.linkDir, "${id}.desktop"))
	f.unpack("com.example.foo", "1.0", map[string]map[string]string{
		"bar": {"desktop": "bar.desktop"},
	})
	f.unpack("com.example.quiet", "1.0", nil)

	require.NoError(t, os.MkdirAll(f.linkDir, 0o755))
	// A leftover from a package that is gone, and two entries that are not
	// ours at all.
	require.NoError(t, os.Symlink("/nonexistent", filepath.Join(f.linkDir, "com.example.gone_app_0.1.desktop")))
	require.NoError(t, os.Symlink("/nonexistent", filepath.Join(f.linkDir, "stray.desktop")))
	require.NoError(t, os.WriteFile(filepath.Join(f.linkDir, "README"), []byte("x"), 0o644))

	hook, err := f.engine.Open("desktop")
	require.NoError(t, err)
	require.NoError(t, hook.Sync(SystemScope{}))

	want := []string{"README", "com.example.foo_bar_1.0.desktop", "stray.desktop"}
	assert.Equal(t, want, f.links(f.linkDir))

	// A second pass over unchanged state is a no-op.
	require.NoError(t, hook.Sync(SystemScope{}))
	assert.Equal(t, want, f.links(f.linkDir))
}

func TestPackageInstallHooksUpgrade(t *testing.T) {
	f := newEngineFixture(t)
	f.writeHook("desktop",
		"Pattern: "+filepath.Join(f.linkDir, "${id}.desktop"),
		"Single-Version: yes",
		"Exec: update-desktop-cache",
		"User: "+f.service)
	f.unpack("com.example.foo", "1.0", map[string]map[string]string{
		"a": {"desktop": "a1.desktop"},
		"b": {"desktop": "b.desktop"},
	})
	two := f.unpack("com.example.foo", "2.0", map[string]map[string]string{
		"a": {"desktop": "a2.desktop"},
	})

	var commands []string
	f.engine.SetCommandRunner(func(line string, account *sysusers.Account) error {
		commands = append(commands, line)
		assert.Nil(t, account)
		return nil
	})

	require.NoError(t, f.engine.PackageInstallHooks("com.example.foo", "", "1.0", SystemScope{}))
	assert.Equal(t, []string{"com.example.foo_a_1.0.desktop", "com.example.foo_b_1.0.desktop"}, f.links(f.linkDir))

	require.NoError(t, f.engine.PackageInstallHooks("com.example.foo", "1.0", "2.0", SystemScope{}))
	assert.Equal(t, []string{"com.example.foo_a_2.0.desktop"}, f.links(f.linkDir))
	got, err := os.Readlink(filepath.Join(f.linkDir, "com.example.foo_a_2.0.desktop"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(two, "a2.desktop"), got)
	assert.NotEmpty(t, commands)
	assert.Equal(t, "update-desktop-cache", commands[0])
}

func TestPackageRemoveHooks(t *testing.T) {
	f := newEngineFixture(t)
	f.writeHook("desktop", "Pattern: "+filepath.Join(f.linkDir, "${id}.desktop"))
	f.unpack("com.example.foo", "1.0", map[string]map[string]string{
		"a": {"desktop": "a.desktop"},
		"b": {"desktop": "b.desktop"},
	})

	require.NoError(t, f.engine.PackageInstallHooks("com.example.foo", "", "1.0", SystemScope{}))
	require.Len(t, f.links(f.linkDir), 2)

	require.NoError(t, f.engine.PackageRemoveHooks("com.example.foo", "1.0", SystemScope{}))
	assert.Empty(t, f.links(f.linkDir))
}

func TestUserLevelHooks(t *testing.T) {
	f := newEngineFixture(t)
	f.writeHook("desktop",
		"Pattern: "+filepath.Join(f.linkDir, "${user}", "${id}.desktop"),
		"User-Level: yes")
	f.unpack("com.example.foo", "1.0", map[string]map[string]string{
		"bar": {"desktop": "bar.desktop"},
	})

	// A user-level hook never participates in system-scope processing.
	require.NoError(t, f.engine.PackageInstallHooks("com.example.foo", "", "1.0", SystemScope{}))
	assert.False(t, fsutil.Exists(f.linkDir))

	users := f.engine.Users()
	require.NoError(t, users.User("alice").SetVersion("com.example.foo", "1.0"))

	require.NoError(t, f.engine.RunUserHooks("alice"))
	aliceDir := filepath.Join(f.linkDir, "alice")
	assert.Equal(t, []string{"com.example.foo_bar_1.0.desktop"}, f.links(aliceDir))

	// The link routes through the registration pointer, not the tree.
	got, err := os.Readlink(filepath.Join(aliceDir, "com.example.foo_bar_1.0.desktop"))
	require.NoError(t, err)
	regLink := filepath.Join(database.UserDir(f.root, "alice"), "com.example.foo")
	assert.Equal(t, filepath.Join(regLink, "bar.desktop"), got)

	require.NoError(t, users.User("alice").Remove("com.example.foo"))
	require.NoError(t, f.engine.RunUserHooks("alice"))
	assert.Empty(t, f.links(aliceDir))
}

func TestRunSystemHooks(t *testing.T) {
	f := newEngineFixture(t)
	f.writeHook("desktop", "Pattern: "+filepath.Join(f.linkDir, "${id}.desktop"))
	f.writeHook("user-desktop",
		"Pattern: "+filepath.Join(f.linkDir, "${user}", "${id}.desktop"),
		"Hook-Name: desktop",
		"User-Level: yes")
	f.unpack("com.example.foo", "1.0", map[string]map[string]string{
		"bar": {"desktop": "bar.desktop"},
	})

	require.NoError(t, f.engine.RunSystemHooks())
	assert.Equal(t, []string{"com.example.foo_bar_1.0.desktop"}, f.links(f.linkDir))
}

func TestTriggerRefused(t *testing.T) {
	f := newEngineFixture(t)
	f.writeHook("batched",
		"Pattern: "+filepath.Join(f.linkDir, "${id}"),
		"Trigger: yes")
	f.unpack("com.example.foo", "1.0", nil)

	hook, err := f.engine.Open("batched")
	require.NoError(t, err)
	assert.True(t, hook.Trigger())

	err = hook.InstallPackage("com.example.foo", "1.0", "bar", "data", SystemScope{})
	assert.ErrorIs(t, err, errors.ErrNotYetImplemented)
	err = hook.RemovePackage("com.example.foo", "1.0", "bar", SystemScope{})
	assert.ErrorIs(t, err, errors.ErrNotYetImplemented)
	err = hook.Sync(SystemScope{})
	assert.ErrorIs(t, err, errors.ErrNotYetImplemented)
}

func TestRegistryEventsAdapter(t *testing.T) {
	f := newEngineFixture(t)
	f.writeHook("desktop",
		"Pattern: "+filepath.Join(f.linkDir, "${user}", "${id}.desktop"),
		"User-Level: yes")
	f.unpack("com.example.foo", "1.0", map[string]map[string]string{
		"bar": {"desktop": "bar.desktop"},
	})

	users := f.engine.Users()
	users.SetEvents(f.engine.RegistryEvents())

	require.NoError(t, users.User("alice").SetVersion("com.example.foo", "1.0"))
	aliceDir := filepath.Join(f.linkDir, "alice")
	assert.Equal(t, []string{"com.example.foo_bar_1.0.desktop"}, f.links(aliceDir))

	require.NoError(t, users.User("alice").Remove("com.example.foo"))
	assert.Empty(t, f.links(aliceDir))
}

func TestUserHookLinkOwnership(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("needs root to switch credentials")
	}
	account, err := sysusers.NewResolver().Lookup("nobody")
	if err != nil {
		t.Skip("no nobody account to drop to")
	}

	f := newEngineFixture(t)
	// The dropped account must be able to traverse the fixture tree and
	// write the link directory.
	require.NoError(t, os.Chmod(filepath.Dir(f.root), 0o755))
	require.NoError(t, os.Chmod(f.root, 0o755))
	require.NoError(t, os.Chmod(filepath.Dir(f.linkDir), 0o755))
	require.NoError(t, os.MkdirAll(f.linkDir, 0o755))
	require.NoError(t, os.Chmod(f.linkDir, 0o777))

	f.writeHook("desktop",
		"Pattern: "+filepath.Join(f.linkDir, "${id}.desktop"),
		"User-Level: yes")
	target := f.unpack("com.example.foo", "1.0", nil)
	regDir := database.UserDir(f.root, "nobody")
	require.NoError(t, os.MkdirAll(regDir, 0o755))
	require.NoError(t, os.Symlink(target, filepath.Join(regDir, "com.example.foo")))

	hook, err := f.engine.Open("desktop")
	require.NoError(t, err)
	require.NoError(t, hook.InstallPackage("com.example.foo", "1.0", "bar", "bar.desktop", UserScope{User: "nobody"}))

	// Resolving the registration mid-install re-enters the user's guard;
	// the link must still come out owned by the scope user, not root.
	fi, err := os.Lstat(filepath.Join(f.linkDir, "com.example.foo_bar_1.0.desktop"))
	require.NoError(t, err)
	stat, ok := fi.Sys().(*syscall.Stat_t)
	require.True(t, ok)
	assert.Equal(t, uint32(account.UID), stat.Uid)
}
