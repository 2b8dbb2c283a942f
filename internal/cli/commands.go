package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/pkgsync/internal/core"
	"github.com/git-pkgs/pkgsync/internal/store"
)

// withApp opens the app for the duration of fn.
func (c *CLI) withApp(cmd *cobra.Command, fn func(context.Context, *app) error) error {
	ctx := cmd.Context()
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func (c *CLI) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Ingest queued packages, then recalculate scores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				defer a.pushMetrics(ctx)
				return a.withLock(ctx, func(ctx context.Context) error {
					if err := a.ingest(ctx); err != nil {
						return err
					}
					return a.score(ctx)
				})
			})
		},
	}
}

func (c *CLI) ingestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Schedule and process package requests and fetches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				defer a.pushMetrics(ctx)
				return a.withLock(ctx, a.ingest)
			})
		},
	}
}

func (c *CLI) scoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "score",
		Short: "Recalculate contribution scores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				defer a.pushMetrics(ctx)
				return a.score(ctx)
			})
		},
	}
}

func (c *CLI) schemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the database tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.store.ApplySchema(ctx); err != nil {
					return err
				}
				a.logger.Info("schema applied", "tables", len(store.Tables))
				return nil
			})
		},
	}
}

func (c *CLI) requestCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "request <purl>",
		Short:   "Queue a package for ingestion",
		Example: "  pkgsync request pkg:npm/left-pad\n  pkgsync request pkg:docker/library/nginx",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, name, err := core.ParsePURL(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				created, err := a.store.CreateRequest(ctx, name, reg)
				if err != nil {
					return err
				}
				status := "queued"
				if !created {
					status = "already queued"
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", status, core.PURL(reg, name, ""))
				return err
			})
		},
	}
}

func (c *CLI) verifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the dependency graph for dangling edges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				for _, status := range []store.PackageStatus{store.PackageActive, store.PackagePlaceholder, store.PackageFailed} {
					n, err := a.store.CountPackages(ctx, status)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%-12s %d\n", status, n)
				}
				dangling, err := a.store.DanglingDependencies(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%-12s %d\n", "dangling", dangling)
				if dangling > 0 {
					return fmt.Errorf("%d dependency edges point at missing rows", dangling)
				}
				return nil
			})
		},
	}
}
