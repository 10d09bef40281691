package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"obsched/internal/command"
	"obsched/internal/model"
)

func taskCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage task records"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <json|@file|->",
			Short: "Record a task and print its id",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				doc, err := readDoc(cmd, args[0])
				if err != nil {
					return err
				}
				return withClient(cmd, opts, func(ctx context.Context, c *command.Client) error {
					id, err := c.AddTaskRecord(ctx, doc)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), id)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "update <id> <json|@file|->",
			Short: "Replace a task record",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, ok := parseID(args[0])
				if !ok {
					return fmt.Errorf("invalid task id %q", args[0])
				}
				doc, err := readDoc(cmd, args[1])
				if err != nil {
					return err
				}
				return withClient(cmd, opts, func(ctx context.Context, c *command.Client) error {
					return c.UpdateTaskRecord(ctx, id, doc)
				})
			},
		},
		&cobra.Command{
			Use:   "get <telescope id|name>",
			Short: "Fetch the next task for a telescope from a site scheduler",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(cmd, opts, func(ctx context.Context, c *command.Client) error {
					var (
						task model.TaskRecord
						err  error
					)
					if id, ok := parseID(args[0]); ok {
						task, err = c.GetTaskByTelescopeID(ctx, id)
					} else {
						task, err = c.GetTaskByTelescopeName(ctx, args[0])
					}
					if err != nil {
						return err
					}
					return printJSON(cmd, task)
				})
			},
		},
	)
	return cmd
}

func statusCmd(opts *options) *cobra.Command {
	var format uint32
	cmd := &cobra.Command{
		Use:   "status <json|@file|->",
		Short: "Send a status document (GENERAL-INFO, SITE-INFO, TELESCOPE-INFO, TASK-INFO)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDoc(cmd, args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, opts, func(ctx context.Context, c *command.Client) error {
				return c.UpdateStatus(ctx, doc, model.Format(format))
			})
		},
	}
	cmd.Flags().Uint32Var(&format, "format", uint32(model.FormatJSON), "document format code")
	return cmd
}

func blockCmd(opts *options) *cobra.Command {
	var format uint32
	push := &cobra.Command{
		Use:   "push <json|@file|->",
		Short: "Queue a task block on the global scheduler",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDoc(cmd, args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, opts, func(ctx context.Context, c *command.Client) error {
				return c.PushTaskBlock(ctx, doc, model.Format(format))
			})
		},
	}
	push.Flags().Uint32Var(&format, "format", uint32(model.FormatJSON), "document format code")

	cmd := &cobra.Command{Use: "block", Short: "Inspect and move task blocks"}
	cmd.AddCommand(
		push,
		&cobra.Command{
			Use:   "pop <site id>",
			Short: "Take the next pending block for a site and print it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, ok := parseID(args[0])
				if !ok {
					return fmt.Errorf("invalid site id %q", args[0])
				}
				return withClient(cmd, opts, func(ctx context.Context, c *command.Client) error {
					b, err := c.PopTaskBlock(ctx, id)
					if err != nil {
						return err
					}
					return printJSON(cmd, b)
				})
			},
		},
		&cobra.Command{
			Use:   "ack <block id>",
			Short: "Acknowledge a popped block",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(cmd, opts, func(ctx context.Context, c *command.Client) error {
					return c.AckTaskBlock(ctx, args[0])
				})
			},
		},
	)
	return cmd
}
