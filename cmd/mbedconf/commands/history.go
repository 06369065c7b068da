package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mbedconf/mbedconf/pkg/stores"
)

func newHistoryCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded resolutions",
		Long: `Inspect the resolution history recorded with --history.

Every command that resolves a configuration records the outcome, the
parameters with their provenance, a digest of the macro list and any policy
violations. Consecutive resolutions of a target can be compared to see which
parameters changed and which unit changed them.`,
	}

	cmd.AddCommand(newHistoryListCommand(opts))
	cmd.AddCommand(newHistoryShowCommand(opts))
	cmd.AddCommand(newHistoryDiffCommand(opts))
	cmd.AddCommand(newHistoryPruneCommand(opts))

	return cmd
}

// withHistory opens the history database named by --history.
func (o *options) withHistory(ctx context.Context, fn func(stores.Store) error) error {
	if o.historyPath == "" {
		return fmt.Errorf("a history database is required (--history)")
	}
	return withStore(ctx, o.historyPath, fn)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func newHistoryListCommand(opts *options) *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded resolutions, newest first",
		Example: `  # Everything
  mbedconf history list --history .mbedconf/history.db

  # One target
  mbedconf history list --history .mbedconf/history.db --target K64F`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withHistory(cmd.Context(), func(store stores.Store) error {
				var target *string
				if opts.target != "" {
					target = &opts.target
				}
				list, err := store.ListResolutions(cmd.Context(), target, limit, offset)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), list)
				}
				rows := make([][]string, 0, len(list))
				for _, res := range list {
					rows = append(rows, []string{
						shortID(res.ID),
						res.Target,
						string(res.Status),
						shortHash(res.MacrosHash),
						res.Duration.Round(time.Millisecond).String(),
						res.CreatedAt.Local().Format(time.RFC3339),
					})
				}
				return table(cmd.OutOrStdout(), []string{"ID", "TARGET", "STATUS", "MACROS", "DURATION", "CREATED"}, rows)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of resolutions")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of resolutions to skip")

	return cmd
}

// findResolution accepts a full ID or a unique prefix of one.
func findResolution(ctx context.Context, store stores.Store, id string) (*stores.Resolution, error) {
	if res, err := store.GetResolution(ctx, id); err == nil {
		return res, nil
	}
	const scan = 1000
	list, err := store.ListResolutions(ctx, nil, scan, 0)
	if err != nil {
		return nil, err
	}
	var match string
	for _, res := range list {
		if !strings.HasPrefix(res.ID, id) {
			continue
		}
		if match != "" {
			return nil, fmt.Errorf("ambiguous resolution ID: %s", id)
		}
		match = res.ID
	}
	if match == "" {
		return nil, fmt.Errorf("resolution not found: %s", id)
	}
	return store.GetResolution(ctx, match)
}

func newHistoryShowCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "show ID",
		Short:   "Show a recorded resolution",
		Args:    cobra.ExactArgs(1),
		Example: `  mbedconf history show 3f2a9c1e --history .mbedconf/history.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withHistory(cmd.Context(), func(store stores.Store) error {
				res, err := findResolution(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				return writeResolution(cmd.OutOrStdout(), res)
			})
		},
	}
}

func writeResolution(w io.Writer, res *stores.Resolution) error {
	fmt.Fprintf(w, "ID:        %s\n", res.ID)
	fmt.Fprintf(w, "Target:    %s\n", res.Target)
	fmt.Fprintf(w, "App:       %s\n", res.AppConfig)
	fmt.Fprintf(w, "Status:    %s\n", res.Status)
	if res.Error != nil {
		kind := ""
		if res.ErrorKind != nil {
			kind = " (" + *res.ErrorKind + ")"
		}
		fmt.Fprintf(w, "Error:     %s%s\n", *res.Error, kind)
	}
	fmt.Fprintf(w, "Features:  %s\n", strings.Join(res.Features, ", "))
	fmt.Fprintf(w, "Libraries: %s\n", strings.Join(res.Libraries, ", "))
	fmt.Fprintf(w, "Macros:    %s\n", res.MacrosHash)
	fmt.Fprintf(w, "Created:   %s\n\n", res.CreatedAt.Local().Format(time.RFC3339))

	rows := make([][]string, 0, len(res.Parameters))
	for _, p := range res.Parameters {
		value := "-"
		if p.Value != nil {
			value = *p.Value
		}
		rows = append(rows, []string{p.Name, value, p.DefinedBy, p.SetBy})
	}
	if err := table(w, []string{"NAME", "VALUE", "DEFINED BY", "SET BY"}, rows); err != nil {
		return err
	}

	if len(res.Violations) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	rows = rows[:0]
	for _, v := range res.Violations {
		rows = append(rows, []string{v.Severity, v.Policy, v.Subject, v.Message})
	}
	return table(w, []string{"SEVERITY", "POLICY", "SUBJECT", "MESSAGE"}, rows)
}

func newHistoryDiffCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "diff [OLD NEW]",
		Short: "Compare the parameters of two resolutions",
		Long: `Compare the parameters of two recorded resolutions.

Without arguments the two most recent resolutions of --target are compared.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected no arguments or two resolution IDs, got %d", len(args))
			}
			return nil
		},
		Example: `  # What changed in the last build of K64F
  mbedconf history diff --history .mbedconf/history.db --target K64F

  # Compare two recorded resolutions
  mbedconf history diff 3f2a9c1e 77d0b412 --history .mbedconf/history.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.withHistory(ctx, func(store stores.Store) error {
				ids := args
				if len(ids) == 0 {
					if opts.target == "" {
						return fmt.Errorf("a target is required (--target) when no IDs are given")
					}
					list, err := store.ListResolutions(ctx, &opts.target, 2, 0)
					if err != nil {
						return err
					}
					if len(list) < 2 {
						return fmt.Errorf("target %s has fewer than two recorded resolutions", opts.target)
					}
					ids = []string{list[1].ID, list[0].ID}
				}

				old, err := findResolution(ctx, store, ids[0])
				if err != nil {
					return err
				}
				cur, err := findResolution(ctx, store, ids[1])
				if err != nil {
					return err
				}

				changes := stores.Diff(old, cur)
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), changes)
				}
				if len(changes) == 0 {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), "No parameter changes")
					return err
				}
				lines := make([]string, 0, len(changes))
				for _, c := range changes {
					lines = append(lines, formatChange(c))
				}
				return writeLines(cmd.OutOrStdout(), lines)
			})
		},
	}
}

func formatChange(c stores.Change) string {
	deref := func(s *string) string {
		if s == nil {
			return "-"
		}
		return *s
	}
	switch c.Kind {
	case stores.ChangeAdded:
		return fmt.Sprintf("+ %s = %s", c.Name, deref(c.New))
	case stores.ChangeRemoved:
		return fmt.Sprintf("- %s = %s", c.Name, deref(c.Old))
	default:
		return fmt.Sprintf("~ %s %s: %s -> %s", c.Name, c.Kind, deref(c.Old), deref(c.New))
	}
}

func newHistoryPruneCommand(opts *options) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:     "prune",
		Short:   "Delete all but the newest resolutions of every target",
		Example: `  mbedconf history prune --keep 10 --history .mbedconf/history.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withHistory(cmd.Context(), func(store stores.Store) error {
				deleted, err := store.PruneResolutions(cmd.Context(), keep)
				if err != nil {
					return err
				}
				log.Info().Int64("deleted", deleted).Int("keep", keep).Msg("History pruned")
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d resolution(s)\n", deleted)
				return err
			})
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 10, "resolutions to keep per target")

	return cmd
}
