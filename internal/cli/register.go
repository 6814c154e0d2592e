package cli

import (
	"github.com/spf13/cobra"
)

// NewRegisterCmd creates the register command.
func NewRegisterCmd() *cobra.Command {
	var (
		user     string
		allUsers bool
	)

	cmd := &cobra.Command{
		Use:   "register PACKAGE [VERSION]",
		Short: "Register an installed package for a user",
		Long: `Point a user's registration at an unpacked package version. Without an
explicit version the highest installed one is chosen.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			version := ""
			if len(args) == 2 {
				version = args[1]
			}
			return runRegister(args[0], version, user, allUsers)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Register for this user (default: invoking user)")
	cmd.Flags().BoolVar(&allUsers, "all-users", false, "Register for all users")

	return cmd
}

func runRegister(pkg, version, user string, allUsers bool) error {
	ctx, err := loadContext()
	if err != nil {
		return err
	}
	if version == "" {
		version, err = ctx.highestVersion(pkg)
		if err != nil {
			return err
		}
	}
	name, err := ctx.targetUser(user, allUsers)
	if err != nil {
		return err
	}
	return ctx.users.User(name).SetVersion(pkg, version)
}
