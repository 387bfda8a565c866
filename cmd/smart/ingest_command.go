package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/RTIInternational/SMART-sub000/internal/services"
	"github.com/RTIInternational/SMART-sub000/internal/store"
)

// ingestFile is the on-disk shape of a project ingest document.
type ingestFile struct {
	Project struct {
		Name       string `yaml:"name"`
		Owner      string `yaml:"owner"`
		BatchSize  int    `yaml:"batch_size"`
		IRRPercent int    `yaml:"irr_percent"`
		RaterCount int    `yaml:"rater_count"`
		Ordering   string `yaml:"ordering"`
		Classifier string `yaml:"classifier"`
	} `yaml:"project"`
	Labels []string `yaml:"labels"`
	Items  []string `yaml:"items"`
}

func newIngestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file.yaml>",
		Short: "Create or extend a project from a YAML document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read ingest file: %w", err)
			}
			var doc ingestFile
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("parse ingest file: %w", err)
			}
			if strings.TrimSpace(doc.Project.Name) == "" {
				return fmt.Errorf("ingest file must name a project")
			}

			return ctx.withComponents(func(c *components) error {
				project, err := c.store.GetProjectByName(cmd.Context(), doc.Project.Name)
				if err != nil {
					return err
				}
				created := false
				if project == nil {
					spec := store.Project{
						Name:       doc.Project.Name,
						Owner:      doc.Project.Owner,
						BatchSize:  doc.Project.BatchSize,
						IRRPercent: doc.Project.IRRPercent,
						RaterCount: doc.Project.RaterCount,
						Ordering:   doc.Project.Ordering,
						Classifier: doc.Project.Classifier,
					}
					if spec.BatchSize == 0 {
						spec.BatchSize = c.cfg.ProjectDefaults.BatchSize
					}
					if spec.IRRPercent == 0 {
						spec.IRRPercent = c.cfg.ProjectDefaults.IRRPercent
					}
					if spec.RaterCount == 0 {
						spec.RaterCount = c.cfg.ProjectDefaults.RaterCount
					}
					if spec.Ordering == "" {
						spec.Ordering = c.cfg.ProjectDefaults.Ordering
					}
					if spec.Classifier == "" {
						spec.Classifier = c.cfg.ProjectDefaults.Classifier
					}
					project, err = c.store.CreateProject(cmd.Context(), spec)
					if err != nil {
						return err
					}
					created = true
				}

				existing, err := c.store.Labels(cmd.Context(), project.ID)
				if err != nil {
					return err
				}
				known := make(map[string]bool, len(existing))
				for _, label := range existing {
					known[label.Name] = true
				}
				addedLabels := 0
				for _, name := range doc.Labels {
					if known[name] {
						continue
					}
					if _, err := c.store.CreateLabel(cmd.Context(), project.ID, name); err != nil {
						return err
					}
					addedLabels++
				}

				addedItems, skipped := 0, 0
				for _, text := range doc.Items {
					_, err := c.store.CreateItem(cmd.Context(), project.ID, text)
					if errors.Is(err, services.ErrConflict) {
						skipped++
						continue
					}
					if err != nil {
						return err
					}
					addedItems++
				}

				out := cmd.OutOrStdout()
				if created {
					fmt.Fprintf(out, "Created project %q (batch %d, %d%% IRR, %d raters, %s ordering)\n",
						project.Name, project.BatchSize, project.IRRPercent, project.RaterCount, project.Ordering)
				} else {
					fmt.Fprintf(out, "Extending existing project %q\n", project.Name)
				}
				fmt.Fprintf(out, "Labels added: %d, items added: %d, duplicates skipped: %d\n",
					addedLabels, addedItems, skipped)
				return nil
			})
		},
	}
}
