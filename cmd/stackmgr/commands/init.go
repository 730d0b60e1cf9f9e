package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newInitCommand() *cobra.Command {
	var adcmBundle string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Prepare the data directories and database",
		Long: `Create the data directories, migrate the database and abort tasks left
running by a previous instance.

With --adcm the built-in ADCM definition is loaded as well.`,
		Example: `  # Initialize with the default settings
  stackmgr init

  # Initialize and load the ADCM definition
  stackmgr init --config /etc/stackmgr/settings.cue --adcm /usr/share/stackmgr/adcm/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(ctx)

			log.Info().Str("data_dir", a.settings.DataDir).Msg("Initializing")

			for _, dir := range []string{
				a.settings.DataDir,
				a.settings.BundleDir,
				a.settings.DownloadDir,
				a.settings.RunDir,
				a.settings.LogDir,
			} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
			}

			tasks, err := a.tasks()
			if err != nil {
				return err
			}
			aborted, err := tasks.AbortAll(ctx)
			if err != nil {
				return err
			}

			result := map[string]interface{}{
				"database":      a.settings.Database,
				"aborted_tasks": aborted,
			}
			if adcmBundle != "" {
				loader, _, err := a.bundleLoader(ctx)
				if err != nil {
					return err
				}
				obj, err := loader.LoadADCM(ctx, adcmBundle)
				if err != nil {
					return err
				}
				result["adcm"] = obj
			}

			return printResult(cmd.OutOrStdout(), result, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Database ready: %s\n", a.settings.Database)
				if aborted > 0 {
					fmt.Fprintf(w, "✓ Aborted %d stale task(s)\n", aborted)
				}
				if adcmBundle != "" {
					fmt.Fprintf(w, "✓ Loaded ADCM definition from %s\n", adcmBundle)
				}
			})
		},
	}

	cmd.Flags().StringVar(&adcmBundle, "adcm", "", "ADCM definition file to load")

	return cmd
}
