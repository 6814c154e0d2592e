package hooks

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/glorpus-work/pakt/pkg/errors"
	"github.com/glorpus-work/pakt/pkg/sysusers"
)

// runCommands runs the hook's Exec command, if one is declared. System hooks
// run as their User field, user-level hooks as the scope user; the switch only
// happens when the process has the privilege to make it.
func (h *Hook) runCommands(scope Scope) error {
	line, ok := h.Exec()
	if !ok {
		return nil
	}
	name, isUser := scopeUser(scope)
	if !isUser {
		var err error
		name, err = h.RunAs()
		if err != nil {
			return err
		}
	}
	var account *sysusers.Account
	if os.Geteuid() == 0 {
		var err error
		account, err = h.engine.accounts.Lookup(name)
		if err != nil {
			return err
		}
	}
	if err := h.engine.runCommand(line, account); err != nil {
		return errors.Wrapf(errors.ErrHookExec, "hook %s: %v", h.name, err)
	}
	return nil
}

// defaultRunCommand runs line through the shell, with credentials switched to
// account when one is given.
func defaultRunCommand(line string, account *sysusers.Account) error {
	cmd := exec.Command("/bin/sh", "-c", line)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if account != nil {
		groups := make([]uint32, len(account.Groups))
		for i, gid := range account.Groups {
			groups[i] = uint32(gid)
		}
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{
				Uid:    uint32(account.UID),
				Gid:    uint32(account.GID),
				Groups: groups,
			},
		}
		cmd.Env = append(os.Environ(), "HOME="+account.Home)
	}
	return cmd.Run()
}
