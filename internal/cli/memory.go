package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/recall/internal/app"
	"github.com/harun/recall/pkg/memory"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/cobra"
)

// ErrOperationFailed is returned when the store reports a failed operation.
// Per-layer details are in the log.
var ErrOperationFailed = errors.New("operation failed")

func newPutCmd(opts *globalOptions) *cobra.Command {
	var (
		layer   string
		ttl     time.Duration
		cascade bool
	)

	cmd := &cobra.Command{
		Use:   "put <key|-> <json>",
		Short: "Store a JSON document",
		Long: `Store a JSON document under key. Use "-" as the key to generate one.
With --cascade the document is also written to every faster tier.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if key == "-" {
				id, err := gonanoid.New()
				if err != nil {
					return fmt.Errorf("failed to generate key: %w", err)
				}
				key = id
			}

			doc, err := memory.UnmarshalDocument([]byte(args[1]))
			if err != nil {
				return err
			}

			return opts.run(cmd, func(ctx context.Context, a *app.App) error {
				ok := a.Store.Store(ctx, key, doc, memory.StoreOptions{Layer: layer, TTL: ttl, Cascade: cascade})
				a.Audit.RecordMutation(ctx, "put", key, layerList(layer), ok)
				if err := printJSON(cmd, map[string]any{"key": key, "stored": ok}); err != nil {
					return err
				}
				if !ok {
					return ErrOperationFailed
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&layer, "layer", "", "primary layer (default: fastest tier)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "expire after this duration (0 keeps forever)")
	cmd.Flags().BoolVar(&cascade, "cascade", false, "also write to every faster tier")
	return cmd
}

func newGetCmd(opts *globalOptions) *cobra.Command {
	var (
		layers  []string
		migrate bool
	)

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve a document from the first tier that has it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app.App) error {
				doc, ok := a.Store.Retrieve(ctx, args[0], memory.RetrieveOptions{Layers: layers, Migrate: migrate})
				if !ok {
					return fmt.Errorf("key %q: %w", args[0], memory.ErrNotFound)
				}
				return printJSON(cmd, doc)
			})
		},
	}

	cmd.Flags().StringSliceVar(&layers, "layers", nil, "layers to check in order (default: hierarchy)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "copy a hit into every faster tier")
	return cmd
}

func newUpdateCmd(opts *globalOptions) *cobra.Command {
	var layers []string

	cmd := &cobra.Command{
		Use:   "update <key> <json>",
		Short: "Merge fields into an existing document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			partial, err := memory.UnmarshalDocument([]byte(args[1]))
			if err != nil {
				return err
			}

			return opts.run(cmd, func(ctx context.Context, a *app.App) error {
				ok := a.Store.Update(ctx, args[0], partial, layers)
				a.Audit.RecordMutation(ctx, "update", args[0], layers, ok)
				if err := printJSON(cmd, map[string]any{"key": args[0], "updated": ok}); err != nil {
					return err
				}
				if !ok {
					return ErrOperationFailed
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&layers, "layers", nil, "layers to update (default: all)")
	return cmd
}

func newDeleteCmd(opts *globalOptions) *cobra.Command {
	var layers []string

	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app.App) error {
				ok := a.Store.Delete(ctx, args[0], layers)
				a.Audit.RecordMutation(ctx, "delete", args[0], layers, ok)
				if err := printJSON(cmd, map[string]any{"key": args[0], "deleted": ok}); err != nil {
					return err
				}
				if !ok {
					return ErrOperationFailed
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&layers, "layers", nil, "layers to delete from (default: all)")
	return cmd
}

func newClearCmd(opts *globalOptions) *cobra.Command {
	var layers []string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every document from the given layers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app.App) error {
				ok := a.Store.Clear(ctx, layers)
				a.Audit.RecordMutation(ctx, "clear", "", layers, ok)
				if err := printJSON(cmd, map[string]any{"cleared": ok}); err != nil {
					return err
				}
				if !ok {
					return ErrOperationFailed
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&layers, "layers", nil, "layers to clear (default: all)")
	return cmd
}

func newTTLCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ttl <key> <duration>",
		Short: "Set the expiry of a key in every layer that supports it",
		Long: `Set the expiry of a key in every layer. A duration of 0 removes the
expiry. Layers without TTL support report "not implemented".`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := time.ParseDuration(args[1])
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}

			return opts.run(cmd, func(ctx context.Context, a *app.App) error {
				results := a.Store.TTL(ctx, args[0], ttl)
				out := make(map[string]string, len(results))
				ok := false
				for layer, err := range results {
					if err != nil {
						out[layer] = err.Error()
						continue
					}
					out[layer] = "ok"
					ok = true
				}
				a.Audit.RecordMutation(ctx, "ttl", args[0], nil, ok)
				return printJSON(cmd, out)
			})
		},
	}
	return cmd
}

func layerList(layer string) []string {
	if layer == "" {
		return nil
	}
	return []string{layer}
}
