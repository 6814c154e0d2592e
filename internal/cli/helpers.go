// Package cli implements the pakt command line interface: registry queries,
// archive deposit, per-user registration and hook maintenance.
package cli

import (
	"github.com/glorpus-work/pakt/internal/logger"
	"github.com/glorpus-work/pakt/pkg/database"
	"github.com/glorpus-work/pakt/pkg/errors"
	"github.com/glorpus-work/pakt/pkg/hooks"
	"github.com/glorpus-work/pakt/pkg/paths"
	"github.com/glorpus-work/pakt/pkg/registry"
	"github.com/glorpus-work/pakt/pkg/sysusers"
	pkgversion "github.com/glorpus-work/pakt/pkg/version"
)

// These variables will be set by the main package.
var (
	LogLevel  *string
	ExtraRoot *string
)

// appContext bundles the wired registry collaborators every command needs.
type appContext struct {
	resolver *paths.Resolver
	accounts *sysusers.Resolver
	db       *database.MultiDB
	engine   *hooks.Engine
	users    *registry.Users
}

// loadContext builds the database stack from configuration and wires the
// hook engine into the registry and database event seams.
func loadContext() (*appContext, error) {
	level := "info"
	if LogLevel != nil && *LogLevel != "" {
		level = *LogLevel
	}
	logger.InitLogger(level)

	resolver := paths.NewResolver()
	accounts := sysusers.NewResolver()
	extra := ""
	if ExtraRoot != nil {
		extra = *ExtraRoot
	}
	db, err := database.Load(resolver, accounts, database.NewExecLiveness(), extra)
	if err != nil {
		return nil, err
	}
	if db.Len() == 0 {
		db.Add(paths.DefaultRoot)
	}

	engine := hooks.NewEngine(db, resolver, accounts)
	db.SetSystemHooks(engine.SystemEvents())
	users := engine.Users()
	users.SetEvents(engine.RegistryEvents())

	return &appContext{
		resolver: resolver,
		accounts: accounts,
		db:       db,
		engine:   engine,
		users:    users,
	}, nil
}

// targetUser resolves the --user/--all-users flag pair to a registry user
// name, defaulting to the invoking account.
func (c *appContext) targetUser(user string, allUsers bool) (string, error) {
	if allUsers {
		return database.AllUsers, nil
	}
	if user != "" {
		return user, nil
	}
	account, err := c.accounts.Current()
	if err != nil {
		return "", err
	}
	return account.Name, nil
}

// highestVersion picks the highest unpacked version of pkg across all
// layers, by Debian ordering.
func (c *appContext) highestVersion(pkg string) (string, error) {
	installed, err := c.db.Packages(true)
	if err != nil {
		return "", err
	}
	var versions []string
	for _, entry := range installed {
		if entry.Package == pkg {
			versions = append(versions, entry.Version)
		}
	}
	best := pkgversion.Max(versions)
	if best == "" {
		return "", errors.Wrapf(errors.ErrDoesNotExist, "%s in any database", pkg)
	}
	return best, nil
}
