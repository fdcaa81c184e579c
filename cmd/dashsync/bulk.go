package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Sternrassler/dashboard-sync/pkg/bulk"
	"github.com/Sternrassler/dashboard-sync/pkg/logging"
	"github.com/Sternrassler/dashboard-sync/pkg/notify"
	"github.com/Sternrassler/dashboard-sync/pkg/screen"
	"github.com/spf13/cobra"
)

func newBulkCmd(a *app) *cobra.Command {
	var screenPath string

	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Apply an operation to many items of a screen",
	}
	cmd.PersistentFlags().StringVar(&screenPath, "screen", "", "screen definition file")
	_ = cmd.MarkPersistentFlagRequired("screen")

	del := &cobra.Command{
		Use:   "delete ID...",
		Short: "Delete items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBulk(cmd, screenPath, args, func(b *backend, def *screen.Definition) bulk.Operation {
				return bulk.Delete(b.client, def.Endpoint)
			})
		},
	}

	set := &cobra.Command{
		Use:   "set FIELD=VALUE ID...",
		Short: "Set one field on items, e.g. status=published",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			field, value, err := parseAssignment(args[0])
			if err != nil {
				return err
			}
			return a.runBulk(cmd, screenPath, args[1:], func(b *backend, def *screen.Definition) bulk.Operation {
				return bulk.SetField(b.client, def.Endpoint, field, value)
			})
		},
	}

	cmd.AddCommand(del, set)
	return cmd
}

// parseAssignment splits FIELD=VALUE. JSON literals (numbers, booleans,
// null, objects) are decoded; anything else is a string.
func parseAssignment(s string) (string, any, error) {
	field, raw, ok := strings.Cut(s, "=")
	if !ok || field == "" {
		return "", nil, fmt.Errorf("%q must be FIELD=VALUE", s)
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return field, raw, nil
	}
	return field, v, nil
}

func (a *app) runBulk(cmd *cobra.Command, screenPath string, ids []string, build func(*backend, *screen.Definition) bulk.Operation) error {
	def, err := screen.ParseFile(screenPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	b, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	s, err := a.newSession(b, def)
	if err != nil {
		return err
	}

	coord := bulk.NewCoordinator(bulk.Config{
		MaxConcurrency: a.cfg.BulkConcurrency,
		RateLimiter:    b.limiter,
		Notifier:       notify.NewLogNotifier(logging.NewLogger("notify")),
		Reloader:       s.Reload,
	})
	res := coord.Apply(ctx, ids, build(b, def))

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d succeeded, %d failed\n", len(res.SucceededIDs), len(res.Failed))
	for _, reason := range res.FailureReasons() {
		fmt.Fprintf(out, "  %s\n", reason)
	}
	if res.ReloadErr == nil {
		fmt.Fprintf(out, "%s now has %d items\n", def.Name, s.Snapshot().Total)
	}

	if len(res.Failed) > 0 {
		return fmt.Errorf("%d of %d items failed", len(res.Failed), res.Total())
	}
	return nil
}
