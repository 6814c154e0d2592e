package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/pakt/pkg/errors"
	"github.com/glorpus-work/pakt/pkg/fsutil"
	"github.com/glorpus-work/pakt/pkg/manifest"
)

// NewPkgdirCmd creates the pkgdir command.
func NewPkgdirCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "pkgdir {PACKAGE|PATH}",
		Short: "Print the directory of an installed package",
		Long: `Resolve a package name through a user's registrations to its unpacked
directory, or walk up from a path to the package directory containing it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runPkgdir(args[0], user)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Resolve through this user's registrations (default: invoking user)")

	return cmd
}

func runPkgdir(arg, user string) error {
	dir, err := func() (string, error) {
		if strings.Contains(arg, "/") {
			return packageDirAbove(arg)
		}
		ctx, err := loadContext()
		if err != nil {
			return "", err
		}
		name, err := ctx.targetUser(user, false)
		if err != nil {
			return "", err
		}
		return ctx.users.User(name).Path(arg)
	}()
	if err != nil {
		return err
	}
	fmt.Println(dir)
	return nil
}

// packageDirAbove walks from path towards the root until it finds a
// directory carrying package metadata.
func packageDirAbove(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		if fsutil.IsDir(filepath.Join(dir, manifest.InfoDir)) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.Wrapf(errors.ErrDoesNotExist, "no package directory above %s", path)
		}
		dir = parent
	}
}
