package cmd

import (
	"context"
	"fmt"
	"io"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/xkilldash9x/autopilot/api/schemas"
	"github.com/xkilldash9x/autopilot/internal/cache"
	"github.com/xkilldash9x/autopilot/internal/config"
	"github.com/xkilldash9x/autopilot/internal/observability"
	"github.com/xkilldash9x/autopilot/internal/store"
	"go.uber.org/zap"
)

// cacheAdmin is the maintenance surface of cache.Cache.
type cacheAdmin interface {
	Stats(ctx context.Context) (schemas.CacheStats, error)
	Cleanup(ctx context.Context, maxAgeDays int) (int64, error)
	Clear(ctx context.Context) (int64, error)
}

// repositoryProvider opens the cache maintenance surface and returns a
// cleanup function for it.
type repositoryProvider interface {
	Create(ctx context.Context, cfg config.Interface) (cacheAdmin, func(), error)
}

type defaultRepositoryProvider struct{}

// NewRepositoryProvider returns the provider backed by the configured
// durable store.
func NewRepositoryProvider() repositoryProvider {
	return &defaultRepositoryProvider{}
}

// Create opens the durable store. Maintenance never touches the volatile
// tier, so the cache is built without a session registry or Redis.
func (p *defaultRepositoryProvider) Create(ctx context.Context, cfg config.Interface) (cacheAdmin, func(), error) {
	logger := observability.GetLogger()
	durable, err := store.Open(ctx, cfg.Database(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open durable store: %w", err)
	}
	cleanup := func() {
		if err := durable.Close(); err != nil {
			logger.Warn("Failed to close durable store", zap.Error(err))
		}
	}
	return cache.New(nil, nil, durable, nil, cfg.Cache(), logger), cleanup, nil
}

// newCacheCmd creates the `cache` command group.
func newCacheCmd(provider repositoryProvider) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the durable action cache",
	}

	withAdmin := func(fn func(ctx context.Context, out io.Writer, admin cacheAdmin) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			admin, cleanup, err := provider.Create(ctx, cfg)
			if err != nil {
				return err
			}
			if cleanup != nil {
				defer cleanup()
			}
			return fn(ctx, cmd.OutOrStdout(), admin)
		}
	}

	var asJSON bool
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarise the stored sequences",
		Args:  cobra.NoArgs,
		RunE: withAdmin(func(ctx context.Context, out io.Writer, admin cacheAdmin) error {
			return runCacheStats(ctx, out, admin, asJSON)
		}),
	}
	statsCmd.Flags().BoolVar(&asJSON, "json", false, "print the statistics as JSON")

	var days int
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete sequences unused for longer than the retention period",
		Args:  cobra.NoArgs,
		RunE: withAdmin(func(ctx context.Context, out io.Writer, admin cacheAdmin) error {
			n, err := admin.Cleanup(ctx, days)
			if err != nil {
				return fmt.Errorf("cleanup failed: %w", err)
			}
			fmt.Fprintf(out, "Removed %d sequence(s).\n", n)
			return nil
		}),
	}
	cleanupCmd.Flags().IntVar(&days, "days", 0, "retention in days (default cache.cleanup_max_age_days)")

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored sequence",
		Args:  cobra.NoArgs,
		RunE: withAdmin(func(ctx context.Context, out io.Writer, admin cacheAdmin) error {
			if !yes {
				return fmt.Errorf("refusing to clear the cache without --yes")
			}
			n, err := admin.Clear(ctx)
			if err != nil {
				return fmt.Errorf("clear failed: %w", err)
			}
			fmt.Fprintf(out, "Removed %d sequence(s).\n", n)
			return nil
		}),
	}
	clearCmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")

	cacheCmd.AddCommand(statsCmd, cleanupCmd, clearCmd)
	return cacheCmd
}

func runCacheStats(ctx context.Context, out io.Writer, admin cacheAdmin, asJSON bool) error {
	stats, err := admin.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cache statistics: %w", err)
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	fmt.Fprintf(out, "Sequences:          %d\n", stats.Total)
	fmt.Fprintf(out, "Avg success rate:   %.2f\n", stats.AvgSuccessRate)
	fmt.Fprintf(out, "Avg executions:     %.1f\n", stats.AvgExecutions)
	fmt.Fprintf(out, "Avg execution time: %.2fs\n", stats.AvgExecutionTime)
	return nil
}
