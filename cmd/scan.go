package cmd

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/threatscope/console/internal/report"
	"github.com/threatscope/console/internal/scan"
)

func newScanCmd(c *cli) *cobra.Command {
	var noMetrics bool
	cmd := &cobra.Command{
		Use:   "scan <file.csv>",
		Short: "Upload a CSV file for classification and show the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context(), scan.WithPrimaryMetrics(!noMetrics))
			if err != nil {
				return err
			}
			u, err := scan.OpenUpload(args[0], c.cfg.Upload.MaxBytes)
			if err != nil {
				return err
			}
			if err := a.Session.Select(u); err != nil {
				return err
			}
			start := time.Now()
			view, err := a.Session.Scan(cmd.Context())
			a.Metrics.ObserveScan(view, err, time.Since(start))
			if err != nil {
				return err
			}
			p := c.printer(cmd)
			p.Results(view)
			if snap := a.Session.Snapshot(); snap.PrimaryMetrics != nil {
				p.Metrics(snap.PrimaryMetrics, nil)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "skip fetching the primary model's metrics")
	return cmd
}

func newResultsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "results",
		Short: "Show the cached results of the last scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			view, err := a.Session.Results(cmd.Context())
			if err != nil {
				return err
			}
			c.printer(cmd).Results(view)
			return nil
		},
	}
}

func newShowCmd(c *cli) *cobra.Command {
	var explain bool
	cmd := &cobra.Command{
		Use:   "show <row-index>",
		Short: "Show the detail view of one row of the last scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid row index %q", args[0])
			}
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			detail, ok, err := a.Session.Row(cmd.Context(), index)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("row %d not found in the last scan", index)
			}
			p := c.printer(cmd)
			p.Detail(detail)
			if !explain {
				return nil
			}
			if a.Explainer == nil {
				return errors.New("explanations need explain.api_key")
			}
			out, err := a.Explainer.Explain(cmd.Context(), detail)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", out.Text)
			return nil
		},
	}
	cmd.Flags().BoolVar(&explain, "explain", false, "ask Claude to explain the classification")
	return cmd
}

func newMetricsCmd(c *cli) *cobra.Command {
	var saveDir string
	cmd := &cobra.Command{
		Use:   "metrics [label]",
		Short: "Show the evaluation metrics of an attack group, or of every group in the last scan",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			labels := args
			if len(labels) == 0 {
				view, err := a.Session.Results(cmd.Context())
				if err != nil {
					return err
				}
				if view == nil {
					return errNoResults
				}
				for _, g := range view.Groups {
					labels = append(labels, g.Label)
				}
			}

			views := make([]*scan.MetricsView, len(labels))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(3)
			for i, label := range labels {
				g.Go(func() error {
					mv, err := a.Session.Metrics(ctx, label)
					if err != nil {
						return fmt.Errorf("metrics for %s: %w", label, err)
					}
					if mv.ModelType.HasMetrics() {
						a.Metrics.ObserveMetricsFetch(mv.ModelType)
					}
					views[i] = mv
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			p := c.printer(cmd)
			used := make(map[string]bool)
			for _, mv := range views {
				saved := map[string]string{}
				if saveDir != "" {
					saved, err = savePanels(saveDir, mv, used)
					if err != nil {
						return err
					}
				}
				p.Metrics(mv, saved)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&saveDir, "save-dir", "", "write chart images as PNG files into this directory")
	return cmd
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// savePanels decodes the image panels of mv into dir. File names keep the
// label's case; used records names already written in this run, compared
// case-insensitively, and a clash gets a numeric suffix.
func savePanels(dir string, mv *scan.MetricsView, used map[string]bool) (map[string]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	saved := make(map[string]string)
	for _, p := range mv.Panels {
		if !p.IsImage() {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.Image)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", p.Name, err)
		}
		base := strings.Trim(unsafeName.ReplaceAllString(mv.Label+"_"+p.Name, "_"), "_")
		name := base + ".png"
		for n := 2; used[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s-%d.png", base, n)
		}
		used[strings.ToLower(name)] = true
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		saved[p.Name] = path
	}
	return saved, nil
}

func newClearCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the cached scan results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Session.Clear(cmd.Context()); err != nil {
				return err
			}
			c.printer(cmd).Message("Cached results cleared.")
			return nil
		},
	}
}

func newExportCmd(c *cli) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the cached results as PDF, JSON or YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			view, err := a.Session.Results(cmd.Context())
			if err != nil {
				return err
			}
			if view == nil {
				return errNoResults
			}
			meta := report.Meta{GeneratedAt: time.Now().UTC()}
			if output == "" || output == "-" {
				if f == report.FormatPDF {
					return errors.New("pdf export needs -o <file>")
				}
				return report.Write(cmd.OutOrStdout(), f, view, meta)
			}
			file, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := report.Write(file, f, view, meta); err != nil {
				file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return err
			}
			c.printer(cmd).Message("Wrote " + output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "pdf", "pdf, json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (stdout for json/yaml when empty)")
	return cmd
}
