// reportctl is the operator CLI: product lifecycle, schema upgrades, and
// task inspection against the store directories directly, without going
// through the RPC layer.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/findingstore/findingstore/internal/config"
	"github.com/findingstore/findingstore/internal/registry"
	"github.com/findingstore/findingstore/internal/types"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "reportctl: %v\n", err)
		os.Exit(1)
	}
}

type cli struct {
	configPath string
	cfg        *config.Config
	reg        *registry.Registry
}

func (c *cli) open(ctx context.Context) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg
	reg, err := registry.Open(ctx, registry.Config{
		BaseDir:         cfg.DataDir,
		ConfigDir:       cfg.ConfigDBDir,
		DefaultPoolSize: cfg.PoolSize,
		CommitterName:   cfg.CommitterName,
		CommitterEmail:  cfg.CommitterEmail,
	}, zap.NewNop().Sugar())
	if err != nil {
		return err
	}
	c.reg = reg
	return nil
}

func (c *cli) close() {
	if c.reg != nil {
		_ = c.reg.Close()
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "reportctl",
		Short:         "Report store operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to server config TOML")

	root.AddCommand(newConfigCmd(c))
	root.AddCommand(newProductCmd(c))
	root.AddCommand(newTaskCmd(c))
	return root
}

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Configuration helpers"}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Print a default config TOML to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := config.RenderTOML(config.Default())
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	})
	return cmd
}

// resolveProduct accepts either a numeric product id or an endpoint slug.
func resolveProduct(ctx context.Context, c *cli, arg string) (int64, error) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return id, nil
	}
	p, err := c.reg.GetProductByEndpoint(ctx, arg)
	if err != nil {
		return 0, fmt.Errorf("resolve product %q: %w", arg, err)
	}
	return p.ID, nil
}

func newProductCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "product", Short: "Manage products"}

	var displayName, description string
	var runLimit int
	add := &cobra.Command{
		Use:   "add <endpoint>",
		Short: "Register a new product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.open(cmd.Context()); err != nil {
				return err
			}
			defer c.close()
			p, err := c.reg.CreateProduct(cmd.Context(), &types.Product{
				Endpoint:      args[0],
				DisplayedName: displayName,
				Description:   description,
				RunLimit:      runLimit,
			})
			if err != nil {
				return err
			}
			fmt.Printf("created product %d (%s)\n", p.ID, p.Endpoint)
			return nil
		},
	}
	add.Flags().StringVar(&displayName, "name", "", "displayed name (defaults to endpoint)")
	add.Flags().StringVar(&description, "description", "", "product description")
	add.Flags().IntVar(&runLimit, "run-limit", 0, "max runs kept per product (0 = unlimited)")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List products",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.open(cmd.Context()); err != nil {
				return err
			}
			defer c.close()
			products, err := c.reg.ListProducts(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tENDPOINT\tNAME\tRUN_LIMIT\tSTATUS")
			for _, p := range products {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", p.ID, p.Endpoint, p.DisplayedName, p.RunLimit, c.reg.Status(p.ID))
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "retire <product-id|endpoint>",
		Short: "Retire a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.open(cmd.Context()); err != nil {
				return err
			}
			defer c.close()
			id, err := resolveProduct(cmd.Context(), c, args[0])
			if err != nil {
				return err
			}
			return c.reg.RetireProduct(cmd.Context(), id)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "upgrade <product-id|endpoint>",
		Short: "Run the schema upgrade for a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.open(cmd.Context()); err != nil {
				return err
			}
			defer c.close()
			id, err := resolveProduct(cmd.Context(), c, args[0])
			if err != nil {
				return err
			}
			if err := c.reg.Upgrade(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("product %d schema: %s\n", id, c.reg.Status(id))
			return nil
		},
	})

	return cmd
}

func newTaskCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Inspect background tasks"}

	var statusFilter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.open(cmd.Context()); err != nil {
				return err
			}
			defer c.close()
			f := types.TaskFilter{}
			if statusFilter != "" {
				f.Statuses = []types.TaskStatus{types.TaskStatus(statusFilter)}
			}
			tasks, err := c.reg.Tasks().ListTasks(cmd.Context(), f, types.MaxQuerySize, 0)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TOKEN\tKIND\tSTATUS\tACTOR\tENQUEUED")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.Token, t.Kind, t.Status, t.Actor, t.EnqueuedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&statusFilter, "status", "", "filter by task status")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <token>",
		Short: "Request cooperative cancellation of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.open(cmd.Context()); err != nil {
				return err
			}
			defer c.close()
			first, err := c.reg.Tasks().SetCancelFlag(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if first {
				fmt.Println("cancellation requested")
			} else {
				fmt.Println("cancellation was already requested")
			}
			return nil
		},
	})

	return cmd
}
