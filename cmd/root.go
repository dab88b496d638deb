// Package cmd is the threatscope command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/threatscope/console/internal/app"
	"github.com/threatscope/console/internal/config"
	"github.com/threatscope/console/internal/scan"
	"github.com/threatscope/console/internal/server"
	"github.com/threatscope/console/internal/ui"
)

// cli carries state shared by the subcommands of one invocation.
type cli struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
	logger  *slog.Logger
	logs    io.Closer
	app     *app.App
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root, _ := newRoot()
	return root
}

// newRoot also returns the shared state so callers can release it when a
// command fails, since cobra skips post-run hooks on error.
func newRoot() (*cobra.Command, *cli) {
	c := &cli{v: viper.New()}
	root := &cobra.Command{
		Use:           "threatscope",
		Short:         "Scan CSV files for phishing, SQL injection and DDoS traffic",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return c.close()
		},
	}
	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "", "config file (default ./threatscope.yaml)")
	root.PersistentFlags().String("backend", "", "ML backend base URL")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = c.v.BindPFlag("backend.url", root.PersistentFlags().Lookup("backend"))
	_ = c.v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))
	root.SetVersionTemplate("threatscope {{.Version}}\n")

	root.AddCommand(
		newScanCmd(c),
		newResultsCmd(c),
		newShowCmd(c),
		newMetricsCmd(c),
		newClearCmd(c),
		newExportCmd(c),
		newLoginCmd(c),
		newLogoutCmd(c),
		newWhoamiCmd(c),
		newUsersCmd(c),
		newHistoryCmd(c),
		newServeCmd(c),
		newVersionCmd(),
	)
	return root, c
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	root, c := newRoot()
	err := root.ExecuteContext(context.Background())
	if cerr := c.close(); err == nil {
		err = cerr
	}
	if err != nil {
		ui.NewPrinter(os.Stderr).Error(err)
		os.Exit(1)
	}
}

func (c *cli) init(cmd *cobra.Command) error {
	cfg, err := config.Load(c.v, c.cfgFile)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger, c.logs = server.SetupLogger(server.LogOptions{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Out:    cmd.ErrOrStderr(),
	})
	slog.SetDefault(c.logger)
	return nil
}

// open wires the components on first use.
func (c *cli) open(ctx context.Context, opts ...scan.Option) (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := app.New(ctx, c.cfg, c.logger, opts...)
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

func (c *cli) close() error {
	var errs []error
	if c.app != nil {
		errs = append(errs, c.app.Close())
		c.app = nil
	}
	if c.logs != nil {
		errs = append(errs, c.logs.Close())
		c.logs = nil
	}
	return errors.Join(errs...)
}

func (c *cli) printer(cmd *cobra.Command) *ui.Printer {
	return ui.NewPrinter(cmd.OutOrStdout())
}

var errNoResults = errors.New("no scan results; run `threatscope scan <file.csv>` first")

func errRequiresDatabase(what string) error {
	return fmt.Errorf("%s requires database.url to be configured", what)
}
