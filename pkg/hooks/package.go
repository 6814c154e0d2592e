package hooks

import (
	"sort"

	"github.com/glorpus-work/pakt/pkg/database"
	"github.com/glorpus-work/pakt/pkg/registry"
)

// attachment is one (application, hook name) pair declared by a manifest.
type attachment struct {
	App  string
	Hook string
}

func attachmentSet(hooks map[string]map[string]string) map[attachment]bool {
	set := make(map[attachment]bool)
	for app, byHook := range hooks {
		for hook := range byHook {
			set[attachment{App: app, Hook: hook}] = true
		}
	}
	return set
}

func sortedAttachments(set map[attachment]bool) []attachment {
	out := make([]attachment, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].App != out[j].App {
			return out[i].App < out[j].App
		}
		return out[i].Hook < out[j].Hook
	})
	return out
}

// PackageInstallHooks runs hook processing for an install or upgrade of pkg
// within scope: attachments present in the old manifest but absent from the
// new one are removed first, then every attachment of the new manifest is
// installed in sorted order. oldVersion is empty on first install.
func (e *Engine) PackageInstallHooks(pkg, oldVersion, newVersion string, scope Scope) error {
	oldHooks := e.manifestHooks(pkg, oldVersion)
	newHooks := e.manifestHooks(pkg, newVersion)
	oldSet := attachmentSet(oldHooks)
	newSet := attachmentSet(newHooks)

	removed := make(map[attachment]bool)
	for a := range oldSet {
		if !newSet[a] {
			removed[a] = true
		}
	}
	for _, a := range sortedAttachments(removed) {
		hooks, err := e.OpenAll(a.Hook)
		if err != nil {
			return err
		}
		for _, hook := range hooks {
			if !hook.matchesScope(scope) {
				continue
			}
			if err := hook.RemovePackage(pkg, oldVersion, a.App, scope); err != nil {
				return err
			}
		}
	}
	for _, a := range sortedAttachments(newSet) {
		hooks, err := e.OpenAll(a.Hook)
		if err != nil {
			return err
		}
		for _, hook := range hooks {
			if !hook.matchesScope(scope) {
				continue
			}
			relPath := newHooks[a.App][a.Hook]
			if err := hook.InstallPackage(pkg, newVersion, a.App, relPath, scope); err != nil {
				return err
			}
		}
	}
	return nil
}

// PackageRemoveHooks runs hook processing for a removal of pkg/oldVersion
// within scope.
func (e *Engine) PackageRemoveHooks(pkg, oldVersion string, scope Scope) error {
	for _, a := range sortedAttachments(attachmentSet(e.manifestHooks(pkg, oldVersion))) {
		hooks, err := e.OpenAll(a.Hook)
		if err != nil {
			return err
		}
		for _, hook := range hooks {
			if !hook.matchesScope(scope) {
				continue
			}
			if err := hook.RemovePackage(pkg, oldVersion, a.App, scope); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunSystemHooks repairs database ownership and synchronizes every
// system-level hook against the full set of unpacked packages.
func (e *Engine) RunSystemHooks() error {
	if err := e.db.EnsureOwnership(); err != nil {
		return err
	}
	hooks, err := e.OpenAll("")
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		if hook.UserLevel() {
			continue
		}
		if err := hook.Sync(SystemScope{}); err != nil {
			return err
		}
	}
	return nil
}

// RunUserHooks synchronizes every user-level hook against user's current
// registrations. An empty user means the invoking account.
func (e *Engine) RunUserHooks(user string) error {
	if user == "" {
		account, err := e.accounts.Current()
		if err != nil {
			return err
		}
		user = account.Name
	}
	hooks, err := e.OpenAll("")
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		if !hook.UserLevel() {
			continue
		}
		if err := hook.Sync(UserScope{User: user}); err != nil {
			return err
		}
	}
	return nil
}

type registryEvents struct {
	engine *Engine
}

func (r registryEvents) PackageInstallHooks(pkg, oldVersion, newVersion, user string) error {
	return r.engine.PackageInstallHooks(pkg, oldVersion, newVersion, UserScope{User: user})
}

func (r registryEvents) PackageRemoveHooks(pkg, oldVersion, user string) error {
	return r.engine.PackageRemoveHooks(pkg, oldVersion, UserScope{User: user})
}

// RegistryEvents adapts the engine to the registration event interface.
func (e *Engine) RegistryEvents() registry.HookEvents {
	return registryEvents{engine: e}
}

type systemEvents struct {
	engine *Engine
}

func (s systemEvents) PackageRemoveHooks(pkg, version string) error {
	return s.engine.PackageRemoveHooks(pkg, version, SystemScope{})
}

// SystemEvents adapts the engine to the database's removal interface.
func (e *Engine) SystemEvents() database.SystemHooks {
	return systemEvents{engine: e}
}
