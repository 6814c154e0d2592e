// Package priv scopes privilege dropping around operations on a user's own
// registry area. When the process runs as root, a Guard temporarily switches
// the effective uid/gid to the target account so created filesystem nodes get
// the right owner and strict filesystems (NFS root_squash and friends) keep
// working; when not root it is a no-op. Drops nest: a hook sync invoked from
// inside a registration change reuses the already-dropped state, and only the
// outermost release restores privilege.
//
// Failing to regain privilege aborts the process. Continuing in an unknown
// privilege state is unsafe, and there is no caller that could meaningfully
// recover.
package priv

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/glorpus-work/pakt/pkg/errors"
	"github.com/glorpus-work/pakt/pkg/sysusers"
)

// Guard manages nested privilege drops toward one target account.
type Guard struct {
	account  *sysusers.Account
	count    int
	oldUmask int

	// abort is called on regain failure; overridden in tests.
	abort func(err error)
}

// NewGuard returns a Guard that drops to account. A nil account yields a
// guard that never switches privilege, used for pseudo-users.
func NewGuard(account *sysusers.Account) *Guard {
	return &Guard{
		account: account,
		abort: func(err error) {
			fmt.Fprintf(os.Stderr, "pakt: %v\n", err)
			os.Exit(1)
		},
	}
}

// active reports whether this guard actually switches ids: only when the
// process is root and a real target account is set.
func (g *Guard) active() bool {
	return g.account != nil && os.Getuid() == 0
}

// Drop lowers the effective uid/gid to the target account, or increments the
// nesting count if already dropped.
func (g *Guard) Drop() error {
	if g.count == 0 && g.active() {
		// syscall.Setegid/Seteuid apply process-wide on Linux.
		if err := syscall.Setegid(g.account.GID); err != nil {
			return errors.Wrapf(errors.ErrDropPrivileges, "setegid %d: %v", g.account.GID, err)
		}
		if err := syscall.Seteuid(g.account.UID); err != nil {
			// Half-dropped; put the gid back before reporting.
			_ = syscall.Setegid(0)
			return errors.Wrapf(errors.ErrDropPrivileges, "seteuid %d: %v", g.account.UID, err)
		}
		// Make sure group-shared trees stay group-writable.
		g.oldUmask = unix.Umask(0)
		unix.Umask(g.oldUmask | 0o002)
	}
	g.count++
	return nil
}

// Regain undoes one Drop. The outermost Regain restores root; failure there
// aborts the process.
func (g *Guard) Regain() {
	if g.count == 0 {
		return
	}
	g.count--
	if g.count == 0 && g.active() {
		unix.Umask(g.oldUmask)
		if err := syscall.Seteuid(0); err != nil {
			g.abort(errors.Wrapf(errors.ErrRegainPrivileges, "seteuid 0: %v", err))
			return
		}
		if err := syscall.Setegid(0); err != nil {
			g.abort(errors.Wrapf(errors.ErrRegainPrivileges, "setegid 0: %v", err))
			return
		}
	}
}

// Run executes fn with privileges dropped, regaining them on every exit path.
func (g *Guard) Run(fn func() error) error {
	if err := g.Drop(); err != nil {
		return err
	}
	defer g.Regain()
	return fn()
}
