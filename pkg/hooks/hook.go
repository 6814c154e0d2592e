// Package hooks implements the hook synchronization engine: declarative
// rules, loaded from deb822-style definition files, that keep pattern-derived
// symlink farms and optional Exec commands consistent with the set of
// installed and registered packages. Packages contribute nothing but the
// attachments in their manifests; all filesystem state outside a package's
// own tree belongs to the hooks.
package hooks

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/glorpus-work/pakt/pkg/database"
	"github.com/glorpus-work/pakt/pkg/deb822"
	"github.com/glorpus-work/pakt/pkg/errors"
	"github.com/glorpus-work/pakt/pkg/fsutil"
	"github.com/glorpus-work/pakt/pkg/manifest"
	"github.com/glorpus-work/pakt/pkg/paths"
	"github.com/glorpus-work/pakt/pkg/pattern"
	"github.com/glorpus-work/pakt/pkg/registry"
	"github.com/glorpus-work/pakt/pkg/sysusers"
)

// HookFileSuffix is the extension of hook definition files.
const HookFileSuffix = ".hook"

// Engine loads hook definitions and drives their lifecycle against a
// database stack.
type Engine struct {
	db       *database.MultiDB
	resolver *paths.Resolver
	accounts *sysusers.Resolver
	users    *registry.Users

	// runCommand executes a hook Exec line as account (nil when privilege
	// is not being switched). Swapped out by tests.
	runCommand func(line string, account *sysusers.Account) error
}

// NewEngine returns an Engine over db reading definitions from the
// resolver's hooks directory.
func NewEngine(db *database.MultiDB, resolver *paths.Resolver, accounts *sysusers.Resolver) *Engine {
	e := &Engine{
		db:         db,
		resolver:   resolver,
		accounts:   accounts,
		runCommand: defaultRunCommand,
	}
	e.users = registry.NewUsers(db, accounts, resolver.ServiceUser())
	return e
}

// Users returns the engine's registry view. Callers registering packages
// must use this instance rather than construct their own, so that hook
// processing re-entering the registry mid-operation shares the per-user
// privilege guards already in flight.
func (e *Engine) Users() *registry.Users { return e.users }

// SetCommandRunner replaces Exec execution, for tests.
func (e *Engine) SetCommandRunner(fn func(line string, account *sysusers.Account) error) {
	e.runCommand = fn
}

// Hook is one loaded hook definition.
type Hook struct {
	engine *Engine
	name   string
	fields deb822.Paragraph
}

// Open loads the hook definition stored under name.
func (e *Engine) Open(name string) (*Hook, error) {
	fields, err := deb822.ParseFile(filepath.Join(e.resolver.HooksDir(), name+HookFileSuffix))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrNoSuchHook, "%q", name)
		}
		return nil, err
	}
	return &Hook{engine: e, name: name, fields: fields}, nil
}

// OpenAll loads every installed hook definition, sorted by file name. With a
// non-empty hookName only definitions carrying that Hook-Name are returned;
// several files may share one.
func (e *Engine) OpenAll(hookName string) ([]*Hook, error) {
	names, err := fsutil.ListDirSorted(e.resolver.HooksDir())
	if err != nil {
		return nil, err
	}
	var hooks []*Hook
	for _, name := range names {
		if !strings.HasSuffix(name, HookFileSuffix) {
			continue
		}
		fields, err := deb822.ParseFile(filepath.Join(e.resolver.HooksDir(), name))
		if err != nil {
			continue
		}
		hook := &Hook{engine: e, name: strings.TrimSuffix(name, HookFileSuffix), fields: fields}
		if hookName != "" && hook.HookName() != hookName {
			continue
		}
		hooks = append(hooks, hook)
	}
	return hooks, nil
}

// Name returns the definition's file-derived name.
func (h *Hook) Name() string { return h.name }

// UserLevel reports whether this is a user-level hook.
func (h *Hook) UserLevel() bool { return h.fields.GetBool("user-level") }

// SingleVersion reports whether only one version's target may exist per
// (package, application). User-level hooks are always single-version.
func (h *Hook) SingleVersion() bool {
	return h.UserLevel() || h.fields.GetBool("single-version")
}

// HookName returns the name packages attach to, defaulting to the file name.
func (h *Hook) HookName() string {
	return h.fields.GetDefault("hook-name", h.name)
}

// Exec returns the command line run after link changes, if one is declared.
func (h *Hook) Exec() (string, bool) { return h.fields.Get("exec") }

// Trigger reports whether the definition requests trigger batching.
func (h *Hook) Trigger() bool { return h.fields.GetBool("trigger") }

// checkTrigger refuses operations on trigger hooks until trigger batching
// exists.
func (h *Hook) checkTrigger() error {
	if h.Trigger() {
		return errors.Wrapf(errors.ErrNotYetImplemented, "hook %s declares Trigger", h.name)
	}
	return nil
}

// Pattern returns the required target path template.
func (h *Hook) Pattern() (string, error) {
	if value, ok := h.fields.Get("pattern"); ok {
		return value, nil
	}
	return "", errors.Wrapf(errors.ErrMissingField, "hook %s: Pattern", h.name)
}

// RunAs returns the account system-level Exec commands run as, required for
// system hooks.
func (h *Hook) RunAs() (string, error) {
	if value, ok := h.fields.Get("user"); ok {
		return value, nil
	}
	return "", errors.Wrapf(errors.ErrMissingField, "hook %s: User", h.name)
}

// matchesScope reports whether this hook participates in operations of the
// given scope.
func (h *Hook) matchesScope(scope Scope) bool {
	_, isUser := scopeUser(scope)
	return h.UserLevel() == isUser
}

// ShortAppID joins package and application into the versionless application
// id. Underscores and path separators in the application name would collide
// with the joining convention, so they are rejected before any filesystem
// mutation.
func ShortAppID(pkg, app string) (string, error) {
	if strings.ContainsAny(app, "_/") {
		return "", errors.Wrapf(errors.ErrBadAppName, "%q may not contain _ or / characters", app)
	}
	return pkg + "_" + app, nil
}

// AppID joins package, application and version into the full application
// instance id.
func AppID(pkg, version, app string) (string, error) {
	short, err := ShortAppID(pkg, app)
	if err != nil {
		return "", err
	}
	return short + "_" + version, nil
}

// bindings computes the pattern bindings for one (package, version, app)
// under scope. The home binding is resolved only when the template asks for
// it, so hooks that never touch ${home} work for accounts the directory
// service cannot resolve.
func (h *Hook) bindings(pkg, version, app string, scope Scope) (template string, b map[string]string, err error) {
	template, err = h.Pattern()
	if err != nil {
		return "", nil, err
	}
	appID, err := AppID(pkg, version, app)
	if err != nil {
		return "", nil, err
	}
	b = map[string]string{"id": appID}
	if h.SingleVersion() {
		short, _ := ShortAppID(pkg, app)
		b["short-id"] = short
	}
	if user, ok := scopeUser(scope); ok {
		b["user"] = user
		for _, field := range pattern.Fields(template) {
			if field == "home" {
				account, err := h.engine.accounts.Lookup(user)
				if err != nil {
					return "", nil, err
				}
				b["home"] = account.Home
				break
			}
		}
	}
	return template, b, nil
}

// targetLink renders the hook's symlink path for one application instance.
func (h *Hook) targetLink(pkg, version, app string, scope Scope) (string, error) {
	template, b, err := h.bindings(pkg, version, app, scope)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(pattern.Format(template, b), string(os.PathSeparator)), nil
}

// linkSource computes what the hook symlink must point at: through the
// user's registration link for user-level hooks, straight into the unpacked
// tree for system ones.
func (h *Hook) linkSource(pkg, version, relPath string, scope Scope) (string, error) {
	if user, ok := scopeUser(scope); ok {
		base, err := h.engine.users.User(user).Path(pkg)
		if err != nil {
			return "", err
		}
		return filepath.Join(base, relPath), nil
	}
	base, err := h.engine.db.Path(pkg, version)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, relPath), nil
}

// installLink creates or corrects one hook symlink. Must already run with
// dropped privileges where that matters.
func (h *Hook) installLink(pkg, version, app, relPath string, scope Scope) error {
	source, err := h.linkSource(pkg, version, relPath, scope)
	if err != nil {
		return err
	}
	link, err := h.targetLink(pkg, version, app, scope)
	if err != nil {
		return err
	}
	if fsutil.IsSymlink(link) {
		if current, err := os.Readlink(link); err == nil && current == source {
			return nil
		}
	}
	if err := fsutil.EnsureDir(filepath.Dir(link)); err != nil {
		return err
	}
	return fsutil.SymlinkForce(source, link)
}

// previousEntry is one on-disk hook symlink recovered by reverse-matching
// the pattern.
type previousEntry struct {
	Path    string
	Package string
	App     string
	Version string
}

// previousEntries scans the pattern's directory for links that match the
// structure of ours. The application id must only appear in the last
// component of the pattern path.
func (h *Hook) previousEntries(scope Scope) ([]previousEntry, error) {
	template, b, err := h.bindings("", "", "", scope)
	if err != nil {
		return nil, err
	}
	empty := map[string]string{"id": "", "short-id": ""}
	for key, value := range b {
		if key != "id" && key != "short-id" {
			empty[key] = value
		}
	}
	linkDir := filepath.Dir(pattern.Format(template, empty))

	fixed := make(map[string]string)
	for key, value := range empty {
		if key != "id" && key != "short-id" {
			fixed[key] = value
		}
	}
	names, err := fsutil.ListDirSorted(linkDir)
	if err != nil {
		return nil, err
	}
	var entries []previousEntry
	for _, name := range names {
		full := filepath.Join(linkDir, name)
		recovered, ok := pattern.ReverseMatch(full, template, fixed)
		if !ok {
			continue
		}
		id, ok := recovered["id"]
		if !ok {
			continue
		}
		parts := strings.SplitN(id, "_", 3)
		if len(parts) != 3 {
			continue
		}
		entries = append(entries, previousEntry{
			Path: full, Package: parts[0], App: parts[1], Version: parts[2],
		})
	}
	return entries, nil
}

// InstallPackage creates the hook symlink for one application of
// pkg/version and runs the hook's Exec command. For single-version hooks any
// other version's link for the same (package, application) is removed first.
func (h *Hook) InstallPackage(pkg, version, app, relPath string, scope Scope) error {
	if err := h.checkTrigger(); err != nil {
		return err
	}
	if _, err := ShortAppID(pkg, app); err != nil {
		return err
	}
	if h.SingleVersion() {
		entries, err := h.previousEntries(scope)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.Package == pkg && entry.App == app && entry.Version != version {
				if err := fsutil.UnlinkForce(entry.Path); err != nil {
					return err
				}
			}
		}
	}
	if err := h.guarded(scope, func() error {
		return h.installLink(pkg, version, app, relPath, scope)
	}); err != nil {
		return err
	}
	return h.runCommands(scope)
}

// RemovePackage removes the hook symlink for one application of pkg/version
// and runs the hook's Exec command.
func (h *Hook) RemovePackage(pkg, version, app string, scope Scope) error {
	if err := h.checkTrigger(); err != nil {
		return err
	}
	link, err := h.targetLink(pkg, version, app, scope)
	if err != nil {
		return err
	}
	if err := fsutil.UnlinkForce(link); err != nil {
		return err
	}
	return h.runCommands(scope)
}

// guarded runs fn with privileges dropped to the scope user where the scope
// has one.
func (h *Hook) guarded(scope Scope, fn func() error) error {
	user, ok := scopeUser(scope)
	if !ok {
		return fn()
	}
	guard, err := h.engine.users.User(user).Guard()
	if err != nil {
		return err
	}
	return guard.Run(fn)
}

// relevantApp is one application instance currently declaring this hook.
type relevantApp struct {
	Package string
	Version string
	App     string
	RelPath string
}

// relevantApps enumerates every (package, version, application) combination
// declaring this hook within scope: the user's registrations for user-level
// hooks, every unpacked version for system ones.
func (h *Hook) relevantApps(scope Scope) ([]relevantApp, error) {
	var installed []registry.Registration
	if user, ok := scopeUser(scope); ok {
		regs, err := h.engine.users.User(user).Registrations()
		if err != nil {
			return nil, err
		}
		installed = regs
	} else {
		pkgs, err := h.engine.db.Packages(true)
		if err != nil {
			return nil, err
		}
		for _, pkg := range pkgs {
			installed = append(installed, registry.Registration{Package: pkg.Package, Version: pkg.Version})
		}
	}
	var apps []relevantApp
	for _, reg := range installed {
		attachments := h.engine.manifestHooks(reg.Package, reg.Version)
		appNames := make([]string, 0, len(attachments))
		for app := range attachments {
			appNames = append(appNames, app)
		}
		sort.Strings(appNames)
		for _, app := range appNames {
			if relPath, ok := attachments[app][h.HookName()]; ok {
				apps = append(apps, relevantApp{
					Package: reg.Package, Version: reg.Version, App: app, RelPath: relPath,
				})
			}
		}
	}
	return apps, nil
}

// InstallAll creates links and runs commands for every relevant application.
func (h *Hook) InstallAll(scope Scope) error {
	apps, err := h.relevantApps(scope)
	if err != nil {
		return err
	}
	for _, app := range apps {
		if err := h.InstallPackage(app.Package, app.Version, app.App, app.RelPath, scope); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAll removes links and runs commands for every relevant application.
func (h *Hook) RemoveAll(scope Scope) error {
	apps, err := h.relevantApps(scope)
	if err != nil {
		return err
	}
	for _, app := range apps {
		if err := h.RemovePackage(app.Package, app.Version, app.App, scope); err != nil {
			return err
		}
	}
	return nil
}

// Sync reconciles the hook's symlink farm with current state: (re)install
// the link of every relevant application, then sweep the pattern directory
// for links whose recovered identity was not seen and remove them. Safe to
// run repeatedly; a second pass with no state change touches nothing.
func (h *Hook) Sync(scope Scope) error {
	if err := h.checkTrigger(); err != nil {
		return err
	}
	type appKey struct{ pkg, version, app string }
	seen := make(map[appKey]bool)

	apps, err := h.relevantApps(scope)
	if err != nil {
		return err
	}
	for _, app := range apps {
		seen[appKey{app.Package, app.Version, app.App}] = true
		if err := h.guarded(scope, func() error {
			return h.installLink(app.Package, app.Version, app.App, app.RelPath, scope)
		}); err != nil {
			return err
		}
	}
	previous, err := h.previousEntries(scope)
	if err != nil {
		return err
	}
	for _, entry := range previous {
		if !seen[appKey{entry.Package, entry.Version, entry.App}] {
			if err := fsutil.UnlinkForce(entry.Path); err != nil {
				return err
			}
		}
	}
	return h.runCommands(scope)
}

// manifestHooks reads the hook attachments of pkg/version, tolerating
// missing or malformed manifests: one broken package must not stall hook
// processing for the rest.
func (e *Engine) manifestHooks(pkg, version string) map[string]map[string]string {
	if version == "" {
		return nil
	}
	dir, err := e.db.Path(pkg, version)
	if err != nil {
		return nil
	}
	m, err := manifest.Load(dir, pkg)
	if err != nil {
		return nil
	}
	return m.Hooks()
}
