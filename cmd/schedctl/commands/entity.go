package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"obsched/internal/command"
)

// entityCmd builds list/add/delete/mask/unmask for one registry.
func entityCmd(opts *options, e command.Entity, use string) *cobra.Command {
	cmd := &cobra.Command{Use: use, Short: "Manage " + e.String() + " registry entries"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Print live " + e.String() + " entries as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withClient(cmd, opts, func(ctx context.Context, c *command.Client) error {
					return list(ctx, cmd, c, e)
				})
			},
		},
		&cobra.Command{
			Use:   "add <json|@file|->",
			Short: "Register a " + e.String() + " and print its id",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				doc, err := readDoc(cmd, args[0])
				if err != nil {
					return err
				}
				return withClient(cmd, opts, func(ctx context.Context, c *command.Client) error {
					id, err := add(ctx, c, e, doc)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), id)
					return nil
				})
			},
		},
	)
	for _, a := range []command.Action{command.Delete, command.Mask, command.Unmask} {
		cmd.AddCommand(statusActionCmd(opts, e, a))
	}
	return cmd
}

func statusActionCmd(opts *options, e command.Entity, a command.Action) *cobra.Command {
	var nside int64
	cmd := &cobra.Command{
		Use:   a.String() + " <id|name>",
		Short: a.String() + " a " + e.String() + " by id or name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *command.Client) error {
				if id, ok := parseID(args[0]); ok {
					return c.SetByID(ctx, e, a, id, nside)
				}
				return c.SetByName(ctx, e, a, args[0])
			})
		},
	}
	if e == command.Target {
		cmd.Flags().Int64Var(&nside, "nside", 0, "restrict an id match to this HEALPix resolution (0 matches any)")
	}
	return cmd
}

func list(ctx context.Context, cmd *cobra.Command, c *command.Client, e command.Entity) error {
	var (
		v   any
		err error
	)
	switch e {
	case command.Site:
		v, err = c.ListSites(ctx)
	case command.Telescope:
		v, err = c.ListTelescopes(ctx)
	default:
		v, err = c.ListTargets(ctx)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd, v)
}

func add(ctx context.Context, c *command.Client, e command.Entity, doc []byte) (uint64, error) {
	switch e {
	case command.Site:
		return c.AddSite(ctx, doc)
	case command.Telescope:
		return c.AddTelescope(ctx, doc)
	default:
		return c.AddTarget(ctx, doc)
	}
}

func targetCmd(opts *options) *cobra.Command {
	cmd := entityCmd(opts, command.Target, "target")
	cmd.AddCommand(&cobra.Command{
		Use:   "priority <id> <priority>",
		Short: "Set a target's scheduling priority",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, ok := parseID(args[0])
			if !ok {
				return fmt.Errorf("invalid target id %q", args[0])
			}
			var p int
			if _, err := fmt.Sscan(args[1], &p); err != nil {
				return fmt.Errorf("invalid priority %q", args[1])
			}
			return withClient(cmd, opts, func(ctx context.Context, c *command.Client) error {
				return c.SetTargetPriority(ctx, id, p)
			})
		},
	})
	return cmd
}
