package cli

import (
	"context"

	"github.com/harun/recall/internal/app"
	"github.com/spf13/cobra"
)

func newPromoteCmd(opts *globalOptions) *cobra.Command {
	return newCopyCmd(opts, "promote", "Copy a document from a slower tier to a faster one")
}

func newDemoteCmd(opts *globalOptions) *cobra.Command {
	return newCopyCmd(opts, "demote", "Copy a document from a faster tier to a slower one")
}

// newCopyCmd builds promote and demote. Neither removes the source copy.
func newCopyCmd(opts *globalOptions, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <key> <from> <to>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, from, to := args[0], args[1], args[2]

			return opts.run(cmd, func(ctx context.Context, a *app.App) error {
				var ok bool
				if name == "promote" {
					ok = a.Store.Promote(ctx, key, from, to)
				} else {
					ok = a.Store.Demote(ctx, key, from, to)
				}
				a.Audit.RecordMutation(ctx, name, key, []string{from, to}, ok)

				if err := printJSON(cmd, map[string]any{"key": key, "from": from, "to": to, "copied": ok}); err != nil {
					return err
				}
				if !ok {
					return ErrOperationFailed
				}
				return nil
			})
		},
	}
}
