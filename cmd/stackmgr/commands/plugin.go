package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/stackmgr/pkg/engine"
)

func newPluginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Change object state from a running job",
		Long: `Commands called by job scripts to change the state of an object. Each
call holds the lock of the job's config.json while it writes.`,
	}

	cmd.AddCommand(newPluginSetStateCommand())
	cmd.AddCommand(newPluginSetMultiStateCommand())
	cmd.AddCommand(newPluginUnsetMultiStateCommand())

	return cmd
}

// pluginArgs parses "<job-id> <object-type> <object-id> <value>".
func pluginArgs(args []string) (jobID int64, objType engine.ObjectType, objID int64, value string, err error) {
	if jobID, err = parseID(args[0], "job"); err != nil {
		return
	}
	objType = engine.ObjectType(args[1])
	if objID, err = parseID(args[2], "object"); err != nil {
		return
	}
	value = args[3]
	return
}

func pluginCommand(use, short string, fn func(p *engine.Plugin, cmd *cobra.Command, args []string) (*engine.Object, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id> <object-type> <object-id> <value>",
		Short: short,
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(ctx)

			cmd.SetContext(ctx)
			obj, err := fn(engine.NewPlugin(a.store, a.tel.Events, a.settings.RunDir, a.logger), cmd, args)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), obj, func(w io.Writer) {
				fmt.Fprintf(w, "%s #%d: state %s, multi-state %v\n", obj.Type, obj.ID, obj.State, obj.MultiState)
			})
		},
	}
}

func newPluginSetStateCommand() *cobra.Command {
	return pluginCommand("set-state", "Set the state of an object",
		func(p *engine.Plugin, cmd *cobra.Command, args []string) (*engine.Object, error) {
			jobID, objType, objID, state, err := pluginArgs(args)
			if err != nil {
				return nil, err
			}
			return p.SetState(cmd.Context(), jobID, objType, objID, state)
		})
}

func newPluginSetMultiStateCommand() *cobra.Command {
	return pluginCommand("set-multi-state", "Add a multi-state flag to an object",
		func(p *engine.Plugin, cmd *cobra.Command, args []string) (*engine.Object, error) {
			jobID, objType, objID, flag, err := pluginArgs(args)
			if err != nil {
				return nil, err
			}
			return p.SetMultiState(cmd.Context(), jobID, objType, objID, flag)
		})
}

func newPluginUnsetMultiStateCommand() *cobra.Command {
	var missingOK bool

	cmd := pluginCommand("unset-multi-state", "Remove a multi-state flag from an object",
		func(p *engine.Plugin, cmd *cobra.Command, args []string) (*engine.Object, error) {
			jobID, objType, objID, flag, err := pluginArgs(args)
			if err != nil {
				return nil, err
			}
			return p.UnsetMultiState(cmd.Context(), jobID, objType, objID, flag, missingOK)
		})
	cmd.Flags().BoolVar(&missingOK, "missing-ok", false, "do not fail when the flag is not set")

	return cmd
}
