package hooks

// Scope selects which side of the hook model an operation acts on: system
// hooks (one shared symlink farm, Exec run as the hook-declared account) or
// user hooks (per-user farms, Exec run as the affected user). Carrying the
// variant explicitly keeps every branch a type switch instead of a nullable
// user name.
type Scope interface {
	isScope()
}

// SystemScope addresses system-level hooks.
type SystemScope struct{}

func (SystemScope) isScope() {}

// UserScope addresses user-level hooks for one user.
type UserScope struct {
	User string
}

func (UserScope) isScope() {}

// scopeUser returns the user of a UserScope, or false for system scope.
func scopeUser(scope Scope) (string, bool) {
	if s, ok := scope.(UserScope); ok {
		return s.User, true
	}
	return "", false
}
