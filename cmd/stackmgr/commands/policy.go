package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect admission policies",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the built-in and configured admission policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(ctx)

			eng, err := a.admission(ctx)
			if err != nil {
				return err
			}
			policies := eng.ListPolicies()
			return printResult(cmd.OutOrStdout(), policies, func(w io.Writer) {
				for _, p := range policies {
					source := p.Source
					if source == "" {
						source = "built-in"
					}
					fmt.Fprintf(w, "%-32s %-8s enabled=%-5v %s\n", p.Name, p.Severity, p.Enabled, source)
				}
			})
		},
	})

	return cmd
}
