package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newADCMCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adcm",
		Short: "Manage the ADCM definition",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "load <file>",
		Short: "Install or upgrade the ADCM singleton",
		Long: `Load the ADCM definition file. The first load creates the ADCM object,
a newer version upgrades it and the installed version is left alone.`,
		Example: `  stackmgr adcm load /usr/share/stackmgr/adcm/config.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(ctx)

			loader, _, err := a.bundleLoader(ctx)
			if err != nil {
				return err
			}
			obj, err := loader.LoadADCM(ctx, args[0])
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), obj, func(w io.Writer) {
				fmt.Fprintf(w, "✓ ADCM #%d on prototype %d\n", obj.ID, obj.PrototypeID)
			})
		},
	})

	return cmd
}
