package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/pakt/pkg/framework"
	"github.com/glorpus-work/pakt/pkg/hooks"
	"github.com/glorpus-work/pakt/pkg/installer"
)

// systemInstallEvents routes installer notifications to system-scope hook
// processing.
type systemInstallEvents struct {
	engine *hooks.Engine
}

func (s systemInstallEvents) PackageInstallHooks(pkg, oldVersion, newVersion string) error {
	return s.engine.PackageInstallHooks(pkg, oldVersion, newVersion, hooks.SystemScope{})
}

// NewInstallCmd creates the install command.
func NewInstallCmd() *cobra.Command {
	var (
		user     string
		allUsers bool
	)

	cmd := &cobra.Command{
		Use:   "install ARCHIVE",
		Short: "Deposit a package archive into the writable database",
		Long: `Unpack a package archive into the writable database layer, validate its
manifest and framework requirements, run system hooks, and optionally
register it for a user.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd, args[0], user, allUsers)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Register the package for this user after deposit")
	cmd.Flags().BoolVar(&allUsers, "all-users", false, "Register the package for all users after deposit")

	return cmd
}

func runInstall(cmd *cobra.Command, archive, user string, allUsers bool) error {
	ctx, err := loadContext()
	if err != nil {
		return err
	}
	inst := installer.New(ctx.db, framework.NewRegistry(ctx.resolver.FrameworksDir()))
	inst.SetEvents(systemInstallEvents{engine: ctx.engine})

	pkg, version, err := inst.Install(cmd.Context(), archive)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s installed\n", pkg, version)

	if user == "" && !allUsers {
		return nil
	}
	name, err := ctx.targetUser(user, allUsers)
	if err != nil {
		return err
	}
	return ctx.users.User(name).SetVersion(pkg, version)
}
