package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewListCmd creates the list command.
func NewListCmd() *cobra.Command {
	var (
		user        string
		allUsers    bool
		allPackages bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered packages",
		Long: `List the packages registered for a user with their versions. With --all,
list every unpacked version in every database layer instead.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runList(user, allUsers, allPackages)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "List registrations of this user (default: invoking user)")
	cmd.Flags().BoolVar(&allUsers, "all-users", false, "List registrations applying to all users")
	cmd.Flags().BoolVar(&allPackages, "all", false, "List all unpacked versions instead of registrations")

	return cmd
}

func runList(user string, allUsers, allPackages bool) error {
	ctx, err := loadContext()
	if err != nil {
		return err
	}
	if allPackages {
		installed, err := ctx.db.Packages(true)
		if err != nil {
			return err
		}
		for _, entry := range installed {
			status := ""
			if entry.Writable {
				status = "\tremovable"
			}
			fmt.Printf("%s\t%s%s\n", entry.Package, entry.Version, status)
		}
		return nil
	}
	name, err := ctx.targetUser(user, allUsers)
	if err != nil {
		return err
	}
	registrations, err := ctx.users.User(name).Registrations()
	if err != nil {
		return err
	}
	for _, reg := range registrations {
		fmt.Printf("%s\t%s\n", reg.Package, reg.Version)
	}
	return nil
}
