// Package paths resolves the configured root directories the registry works
// against: the database layer configuration, hook definitions and framework
// declarations. A Resolver is constructed once and passed to collaborators;
// environment overrides exist so tests and relocated installs never need to
// touch the system directories.
package paths

import "os"

// Installation defaults.
const (
	DefaultRoot          = "/opt/pakt"
	defaultDBConfigDir   = "/etc/pakt/databases"
	defaultHooksDir      = "/usr/share/pakt/hooks"
	defaultFrameworksDir = "/usr/share/pakt/frameworks"

	// defaultServiceUser is the dedicated low-privilege account that owns
	// the database trees.
	defaultServiceUser = "pakt"
)

// Resolver holds the resolved directories for one registry context.
type Resolver struct {
	dbConfigDir   string
	hooksDir      string
	frameworksDir string
	serviceUser   string
}

// NewResolver returns a Resolver using the compiled-in defaults, with each
// directory individually overridable through the environment.
func NewResolver() *Resolver {
	return &Resolver{
		dbConfigDir:   envOr("PAKT_DB_CONFIG_DIR", defaultDBConfigDir),
		hooksDir:      envOr("PAKT_HOOKS_DIR", defaultHooksDir),
		frameworksDir: envOr("PAKT_FRAMEWORKS_DIR", defaultFrameworksDir),
		serviceUser:   envOr("PAKT_SERVICE_USER", defaultServiceUser),
	}
}

// NewResolverFor returns a Resolver with explicit directories, used by tests
// and embedded callers.
func NewResolverFor(dbConfigDir, hooksDir, frameworksDir, serviceUser string) *Resolver {
	return &Resolver{
		dbConfigDir:   dbConfigDir,
		hooksDir:      hooksDir,
		frameworksDir: frameworksDir,
		serviceUser:   serviceUser,
	}
}

// DBConfigDir returns the directory holding one configuration file per
// database layer.
func (r *Resolver) DBConfigDir() string { return r.dbConfigDir }

// HooksDir returns the directory holding hook definition files.
func (r *Resolver) HooksDir() string { return r.hooksDir }

// FrameworksDir returns the directory holding framework declarations.
func (r *Resolver) FrameworksDir() string { return r.frameworksDir }

// ServiceUser returns the account name that owns the database trees.
func (r *Resolver) ServiceUser() string { return r.serviceUser }

func envOr(key, def string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return def
}
