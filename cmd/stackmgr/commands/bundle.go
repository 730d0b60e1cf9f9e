package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/stackmgr/pkg/admission"
	"github.com/openfroyo/stackmgr/pkg/engine"
)

func newBundleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Manage bundles",
		Long:  `Load, update, delete and check product bundles.`,
	}

	cmd.AddCommand(newBundleLoadCommand())
	cmd.AddCommand(newBundleUpdateCommand())
	cmd.AddCommand(newBundleDeleteCommand())
	cmd.AddCommand(newBundleListCommand())
	cmd.AddCommand(newBundleCheckCommand())
	cmd.AddCommand(newBundleWatchCommand())

	return cmd
}

func printBundle(w io.Writer, b *engine.Bundle, verb string) error {
	return printResult(w, b, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Bundle %s: #%d %s %s", verb, b.ID, b.Name, b.Version)
		if b.Edition != "" {
			fmt.Fprintf(w, " (%s)", b.Edition)
		}
		fmt.Fprintln(w)
	})
}

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id: %q", what, arg)
	}
	return id, nil
}

func newBundleLoadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "load <file>",
		Short: "Load a bundle archive",
		Long: `Extract a bundle archive, validate its definitions and commit them to
the catalog. Relative file names are looked up in the download directory.`,
		Example: `  # Load an uploaded archive
  stackmgr bundle load zookeeper-3.4.10.tgz

  # Load an archive by absolute path and print the bundle as JSON
  stackmgr bundle load /tmp/zookeeper.tgz --json`,
		Args: cobra.ExactArgs(1),
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
			b, err := loader.LoadBundle(ctx, args[0])
			if err != nil {
				return err
			}
			return printBundle(cmd.OutOrStdout(), b, "loaded")
		},
	}
}

func newBundleUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update <bundle-id>",
		Short: "Re-read an installed bundle",
		Long: `Parse the extracted directory of an installed bundle again and refresh
its definitions in the catalog.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "bundle")
			if err != nil {
				return err
			}
			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(ctx)

			loader, _, err := a.bundleLoader(ctx)
			if err != nil {
				return err
			}
			b, err := loader.UpdateBundle(ctx, id)
			if err != nil {
				return err
			}
			return printBundle(cmd.OutOrStdout(), b, "updated")
		},
	}
}

func newBundleDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <bundle-id>",
		Short: "Delete an unused bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "bundle")
			if err != nil {
				return err
			}
			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(ctx)

			loader, _, err := a.bundleLoader(ctx)
			if err != nil {
				return err
			}
			if err := loader.DeleteBundle(ctx, id); err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), map[string]int64{"deleted": id}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Bundle #%d deleted\n", id)
			})
		},
	}
}

func newBundleListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed bundles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(ctx)

			bundles, err := a.store.ListBundles(ctx)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), bundles, func(w io.Writer) {
				for _, b := range bundles {
					fmt.Fprintf(w, "%-6d %-24s %-16s %-12s %s\n", b.ID, b.Name, b.Version, b.Edition, b.Hash)
				}
			})
		},
	}
}

func newBundleCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <archive-or-dir>",
		Short: "Validate a bundle without loading it",
		Long: `Parse and cross-check a bundle archive or directory and run the
admission policies on it. The catalog is not touched.`,
		Example: `  # Check a bundle source tree
  stackmgr bundle check ./zookeeper

  # Check an archive and print its manifest
  stackmgr bundle check zookeeper.tgz --json`,
		Args: cobra.ExactArgs(1),
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
			manifest, err := loader.CheckBundle(ctx, args[0])
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), manifest, func(w io.Writer) {
				fmt.Fprintf(w, "✓ %s %s %s is valid\n", manifest.Type, manifest.Name, manifest.Version)
				for _, p := range manifest.Prototypes {
					fmt.Fprintf(w, "  %-10s %-24s %-12s %d action(s)\n", p.Type, p.Name, p.Version, len(p.Actions))
				}
			})
		},
	}
}

func newBundleWatchCommand() *cobra.Command {
	var settle time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Load bundles as they are uploaded",
		Long: `Watch the download directory and load every archive that lands in it.
Admission policies are reloaded when their files change, and metrics are
served while the watch runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openDaemonApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(ctx)

			loader, policies, err := a.bundleLoader(ctx)
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return loader.Watch(ctx, settle, func(ctx context.Context, file string) {
					b, err := loader.LoadBundle(ctx, file)
					if err != nil {
						a.logger.Error().Err(err).Str("file", file).Str("code", engine.CodeOf(err)).Msg("Failed to load bundle")
						return
					}
					a.logger.Info().Int64("bundle_id", b.ID).Str("name", b.Name).Str("version", b.Version).Msg("Bundle loaded")
				})
			})
			if a.settings.Metrics.Enabled {
				g.Go(func() error {
					return a.tel.Metrics.Serve(ctx)
				})
			}
			if dir := a.settings.PolicyDir; dir != "" {
				g.Go(func() error {
					return admission.NewLoader(a.logger).Watch(ctx, []string{dir}, func(p []admission.Policy) error {
						return policies.Replace(ctx, p)
					})
				})
			}
			return g.Wait()
		},
	}

	cmd.Flags().DurationVar(&settle, "settle", 2*time.Second, "time a file must stay unchanged before it is loaded")

	return cmd
}
