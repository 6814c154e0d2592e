package cli

import (
	"github.com/spf13/cobra"

	"github.com/glorpus-work/pakt/pkg/hooks"
)

// NewHookCmd creates the hook command group.
func NewHookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Run or maintain hooks",
	}

	cmd.AddCommand(
		newHookRunSystemCmd(),
		newHookRunUserCmd(),
		newHookInstallCmd(),
		newHookRemoveCmd(),
	)

	return cmd
}

func newHookRunSystemCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-system",
		Short: "Synchronize all system-level hooks",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			return ctx.engine.RunSystemHooks()
		},
	}
}

func newHookRunUserCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "run-user",
		Short: "Synchronize all user-level hooks for a user",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			return ctx.engine.RunUserHooks(user)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Synchronize for this user (default: invoking user)")

	return cmd
}

// forEachScope applies fn to the scopes a hook participates in: the system
// scope, or one user scope per known real user for user-level hooks.
func forEachScope(ctx *appContext, hook *hooks.Hook, fn func(hooks.Scope) error) error {
	if !hook.UserLevel() {
		return fn(hooks.SystemScope{})
	}
	names, err := ctx.users.Names()
	if err != nil {
		return err
	}
	for _, name := range names {
		if ctx.users.User(name).Pseudo() {
			continue
		}
		if err := fn(hooks.UserScope{User: name}); err != nil {
			return err
		}
	}
	return nil
}

func newHookInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install HOOK",
		Short: "Install the links of a newly added hook",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			hook, err := ctx.engine.Open(args[0])
			if err != nil {
				return err
			}
			return forEachScope(ctx, hook, hook.InstallAll)
		},
	}
}

func newHookRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove HOOK",
		Short: "Remove the links of a hook being retired",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			hook, err := ctx.engine.Open(args[0])
			if err != nil {
				return err
			}
			return forEachScope(ctx, hook, hook.RemoveAll)
		},
	}
}
