package cli

import (
	"github.com/spf13/cobra"
)

// NewGcCmd creates the gc command.
func NewGcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Remove unpacked versions no registration references",
		Long: `Sweep the writable database layer for package versions without any
remaining registration and remove them. Safe to re-run; failures on
individual packages are logged and skipped.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}
			return ctx.db.Gc()
		},
	}
}
