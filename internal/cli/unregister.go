package cli

import (
	"github.com/spf13/cobra"
)

// NewUnregisterCmd creates the unregister command.
func NewUnregisterCmd() *cobra.Command {
	var (
		user     string
		allUsers bool
	)

	cmd := &cobra.Command{
		Use:   "unregister PACKAGE",
		Short: "Remove a user's registration of a package",
		Long: `Remove the user's registration of a package. The unpacked copy is removed
too once no registration anywhere references it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runUnregister(args[0], user, allUsers)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Unregister for this user (default: invoking user)")
	cmd.Flags().BoolVar(&allUsers, "all-users", false, "Unregister for all users")

	return cmd
}

func runUnregister(pkg, user string, allUsers bool) error {
	ctx, err := loadContext()
	if err != nil {
		return err
	}
	name, err := ctx.targetUser(user, allUsers)
	if err != nil {
		return err
	}
	u := ctx.users.User(name)
	oldVersion, err := u.Version(pkg)
	if err != nil {
		oldVersion = ""
	}
	if err := u.Remove(pkg); err != nil {
		return err
	}
	if oldVersion == "" {
		return nil
	}
	// The copy itself goes once nobody is registered to it anymore.
	return ctx.db.MaybeRemove(pkg, oldVersion)
}
