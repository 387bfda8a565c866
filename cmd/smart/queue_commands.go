package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RTIInternational/SMART-sub000/internal/fill"
	"github.com/RTIInternational/SMART-sub000/internal/ordering"
	"github.com/RTIInternational/SMART-sub000/internal/store"
)

func newFillCommand(ctx *commandContext) *cobra.Command {
	var strategyFlag string

	cmd := &cobra.Command{
		Use:   "fill <project>",
		Short: "Fill a project's queues with eligible items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(func(c *components) error {
				project, err := c.store.GetProjectByName(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if project == nil {
					return fmt.Errorf("project %q not found", args[0])
				}

				name := strategyFlag
				if name == "" {
					name = project.Ordering
				}
				strategy, err := ordering.Parse(name)
				if err != nil {
					return err
				}

				if err := c.sync.Rebuild(cmd.Context()); err != nil {
					return err
				}
				normal, err := c.store.ProjectQueue(cmd.Context(), project.ID, store.KindNormal)
				if err != nil {
					return err
				}
				req := fill.Request{
					Queue:      normal,
					Strategy:   strategy,
					IRRPercent: project.IRRPercent,
					BatchSize:  project.BatchSize,
				}
				if project.IRRPercent > 0 {
					irrQueue, err := c.store.ProjectQueue(cmd.Context(), project.ID, store.KindIRR)
					if err != nil {
						return err
					}
					req.IRRQueue = irrQueue
				}

				result, err := c.filler.Fill(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Filled %d of %d IRR and %d of %d normal items using %q ordering\n",
					result.AddedIRR, result.RequestedIRR, result.AddedNormal, result.RequestedNormal, strategy)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&strategyFlag, "strategy", "", "Ordering strategy override (random, least confident, margin sampling, entropy)")
	return cmd
}

func newRebuildCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the queue cache from the durable store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(func(c *components) error {
				if err := c.sync.Rebuild(cmd.Context()); err != nil {
					return err
				}
				queues, err := c.store.AllQueues(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt cache for %d queues\n", len(queues))
				return nil
			})
		},
	}
}
