package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <project>",
		Short: "Show per-queue occupancy for a project",
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
				if err := c.sync.Rebuild(cmd.Context()); err != nil {
					return err
				}

				statuses, err := c.service.QueueStatusCounts(cmd.Context(), project.ID)
				if err != nil {
					return err
				}

				rows := make([][]string, 0, len(statuses))
				for _, status := range statuses {
					owner := status.Annotator
					if owner == "" {
						owner = "(project)"
					}
					length := strconv.Itoa(status.Length)
					if status.Length == 0 {
						length = "unbounded"
					}
					rows = append(rows, []string{
						strconv.FormatInt(status.QueueID, 10),
						string(status.Kind),
						owner,
						length,
						strconv.Itoa(status.Members),
						strconv.Itoa(status.Assigned),
						strconv.Itoa(status.CacheLen),
					})
				}

				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]column{
						{header: "ID", numeric: true},
						{header: "Kind"},
						{header: "Owner"},
						{header: "Length", numeric: true},
						{header: "Members", numeric: true},
						{header: "Assigned", numeric: true},
						{header: "Poppable", numeric: true},
					},
					rows,
				))
				return nil
			})
		},
	}
}
