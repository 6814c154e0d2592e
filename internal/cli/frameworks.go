package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/pakt/pkg/framework"
	"github.com/glorpus-work/pakt/pkg/paths"
)

// NewFrameworksCmd creates the frameworks command.
func NewFrameworksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "frameworks",
		Short: "List the frameworks declared on this system",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runFrameworks()
		},
	}
}

func runFrameworks() error {
	registry := framework.NewRegistry(paths.NewResolver().FrameworksDir())
	names, err := registry.Names()
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}
