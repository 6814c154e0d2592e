package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewInfoCmd creates the info command.
func NewInfoCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "info PACKAGE [VERSION]",
		Short: "Show a package manifest",
		Long: `Print the manifest of a package as JSON. Without a version, the version
registered for the user is shown, with its dynamic keys.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			version := ""
			if len(args) == 2 {
				version = args[1]
			}
			return runInfo(args[0], version, user)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Resolve through this user's registrations (default: invoking user)")

	return cmd
}

func runInfo(pkg, version, user string) error {
	ctx, err := loadContext()
	if err != nil {
		return err
	}
	m, err := func() (map[string]interface{}, error) {
		if version != "" {
			return ctx.db.Manifest(pkg, version)
		}
		name, err := ctx.targetUser(user, false)
		if err != nil {
			return nil, err
		}
		return ctx.users.User(name).Manifest(pkg)
	}()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
