package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/poudelalish/blockchain-inventory/internal/blob"
	"github.com/poudelalish/blockchain-inventory/internal/client"
	"github.com/poudelalish/blockchain-inventory/internal/core"
	"github.com/poudelalish/blockchain-inventory/internal/directory"
	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

// dial returns a client for --url when set, otherwise for the ledger the
// deployment directory records under --network.
func (a *app) dial(ctx context.Context) (*client.Client, error) {
	opts := []client.Option{
		client.WithCaller(a.cfg.Client.Caller),
		client.WithCallerHeader(a.cfg.HTTP.CallerHeader),
		client.WithTimeout(a.cfg.Client.Timeout),
	}
	if a.cfg.Client.BaseURL != "" {
		return client.New(a.cfg.Client.BaseURL, opts...)
	}
	dir, err := a.openDirectory(ctx)
	if err != nil {
		return nil, err
	}
	return client.Dial(ctx, dir, a.cfg.NetworkID, opts...)
}

func parseUint(raw, what string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an unsigned integer, got %q", what, raw)
	}
	return id, nil
}

// networksView is the output of the networks command.
type networksView struct {
	Key      string             `json:"key"`
	Stored   *blob.Info         `json:"stored,omitempty"`
	Document directory.Document `json:"document"`
}

func newNetworksCommand(a *app) *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "networks",
		Short: "List networks with a recorded ledger deployment",
		Long: `Print the deployment directory together with the stored document's size,
ETag and last modification time. With --history, list the archived
revisions that earlier deploys replaced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			dir, err := a.openDirectory(ctx)
			if err != nil {
				return err
			}
			if history {
				revisions, err := dir.History(ctx)
				if err != nil {
					return err
				}
				if revisions == nil {
					revisions = []blob.Info{}
				}
				return printJSON(cmd.OutOrStdout(), revisions)
			}
			doc, err := dir.Load(ctx)
			if err != nil {
				return err
			}
			view := networksView{Key: dir.Key(), Document: doc}
			info, err := dir.Stat(ctx)
			switch {
			case err == nil:
				view.Stored = &info
			case !errors.Is(err, blob.ErrNotFound):
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "list archived revisions of the directory document")
	return cmd
}

func newPingCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check the ledger is reachable and print its counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.Ping(cmd.Context()); err != nil {
				return err
			}
			owner, err := c.Owner(cmd.Context())
			if err != nil {
				return err
			}
			counts, err := c.Counts(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"url":    c.BaseURL(),
				"owner":  owner,
				"counts": counts,
			})
		},
	}
}

func newStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print participant totals and per-stage product counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			kpis, err := c.LoadKPIs(cmd.Context())
			if err != nil {
				return err
			}
			byStage := make(map[string]uint64, len(kpis.ByStage))
			for stage, n := range kpis.ByStage {
				byStage[stage.Label()] = n
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"products":     kpis.Counts.Products,
				"participants": kpis.Participants,
				"in_progress":  kpis.InProgress,
				"sold":         kpis.Sold(),
				"by_stage":     byStage,
			})
		},
	}
}

func newRoleCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Register and inspect supply-chain roles",
	}

	var name, place string
	register := &cobra.Command{
		Use:   "register <kind> <address>",
		Short: "Register an identity as a supplier, manufacturer, distributor or retailer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseRoleKind(args[0])
			if err != nil {
				return err
			}
			c, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			role, err := c.RegisterRole(cmd.Context(), kind, args[1], name, place)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), role)
		},
	}
	register.Flags().StringVar(&name, "name", "", "display name")
	register.Flags().StringVar(&place, "place", "", "location")

	show := &cobra.Command{
		Use:   "show <kind> <id>",
		Short: "Show one role record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseRoleKind(args[0])
			if err != nil {
				return err
			}
			id, err := parseUint(args[1], "role id")
			if err != nil {
				return err
			}
			c, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			role, err := c.Role(cmd.Context(), kind, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), role)
		},
	}

	list := &cobra.Command{
		Use:   "list <kind>",
		Short: "List the role records of one kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseRoleKind(args[0])
			if err != nil {
				return err
			}
			c, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			roles, err := c.Roles(cmd.Context(), kind)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), roles)
		},
	}

	cmd.AddCommand(register, show, list)
	return cmd
}

func newProductCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Order and inspect products",
	}

	var description string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Order a new product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			product, err := c.CreateProduct(cmd.Context(), args[0], description)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), product)
		},
	}
	create.Flags().StringVarP(&description, "description", "d", "", "product description")

	byID := func(use, short string, run func(ctx context.Context, c *client.Client, id uint64) (any, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseUint(args[0], "product id")
				if err != nil {
					return err
				}
				c, err := a.dial(cmd.Context())
				if err != nil {
					return err
				}
				out, err := run(cmd.Context(), c, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			},
		}
	}

	var stageFilter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List products, optionally only those in one stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				stage    domain.Stage
				filtered = stageFilter != ""
			)
			if filtered {
				var err error
				if stage, err = domain.ParseStage(stageFilter); err != nil {
					return err
				}
			}
			c, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			var products []domain.Product
			if filtered {
				products, err = c.ProductsInStage(cmd.Context(), stage)
			} else {
				products, err = c.Products(cmd.Context())
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), products)
		},
	}
	list.Flags().StringVar(&stageFilter, "stage", "", "only list products in this stage (name or number)")

	cmd.AddCommand(
		create,
		list,
		byID("show", "Show one product", func(ctx context.Context, c *client.Client, id uint64) (any, error) {
			return c.Product(ctx, id)
		}),
		byID("stage", "Show the stage label of a product", func(ctx context.Context, c *client.Client, id uint64) (any, error) {
			label, err := c.StageLabel(ctx, id)
			return map[string]any{"id": id, "label": label}, err
		}),
		byID("timestamps", "Show when a product entered each stage", func(ctx context.Context, c *client.Client, id uint64) (any, error) {
			return c.Timestamps(ctx, id)
		}),
	)
	return cmd
}

// newTransitionCommands returns one top-level verb per stage transition.
func newTransitionCommands(a *app) []*cobra.Command {
	verbs := []struct {
		use, op, short string
	}{
		{"supply", core.OpSupplyRawMaterial, "Supply raw material for an ordered product"},
		{"manufacture", core.OpManufacture, "Manufacture a supplied product"},
		{"distribute", core.OpDistribute, "Distribute a manufactured product"},
		{"retail", core.OpRetail, "Move a distributed product into retail"},
		{"sell", core.OpSell, "Sell a retailed product"},
	}
	cmds := make([]*cobra.Command, 0, len(verbs))
	for _, verb := range verbs {
		op := verb.op
		cmds = append(cmds, &cobra.Command{
			Use:   verb.use + " <product-id>",
			Short: verb.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseUint(args[0], "product id")
				if err != nil {
					return err
				}
				c, err := a.dial(cmd.Context())
				if err != nil {
					return err
				}
				product, err := c.Transition(cmd.Context(), op, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"product": product,
					"stage":   product.Stage.Label(),
				})
			},
		})
	}
	return cmds
}
