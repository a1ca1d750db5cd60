package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/arthur-debert/graphport/graphport/config"
	"github.com/arthur-debert/graphport/graphport/export"
	imports "github.com/arthur-debert/graphport/graphport/import"
	"github.com/arthur-debert/graphport/graphport/metrics"
	"github.com/arthur-debert/graphport/graphport/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// CLI wires the graphport commands to one viper instance.
type CLI struct {
	rootCmd  *cobra.Command
	v        *viper.Viper
	settings *config.Settings
	out      io.Writer
	errOut   io.Writer

	// logToFile is off in tests so runs don't touch the user cache dir
	logToFile bool
}

// NewCLI creates the command tree.
func NewCLI() *CLI {
	cli := &CLI{
		v:         config.NewViper(),
		out:       os.Stdout,
		errOut:    os.Stderr,
		logToFile: true,
	}
	cli.createRootCommand()
	cli.addCommands()
	return cli
}

// Execute runs the command line.
func (cli *CLI) Execute() error {
	return cli.rootCmd.Execute()
}

func (cli *CLI) createRootCommand() {
	cli.rootCmd = &cobra.Command{
		Use:   "graphport",
		Short: "Export and import entity graphs between content stores",
		Long: `graphport moves an entity and everything it references between content
stores as a portable archive.

Configuration Sources (in order of precedence):
1. Command line flags
2. Environment variables (GRAPHPORT_*)
3. Configuration file (GRAPHPORT_CONFIG, ./graphport.yaml,
   ~/.graphport/graphport.yaml, /etc/graphport/graphport.yaml)
4. Defaults

Examples:
  # Package an article with its images, tags and paragraphs
  graphport export node 5 -o ./exports

  # Replay it into another store under a new URL alias
  GRAPHPORT_STORE_PATH=/srv/target.json graphport import ./exports/abc.tgz --uri /cats`,

		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(cli.v)
			if err != nil {
				return NewConfigError("load settings", err)
			}
			cli.settings = settings

			verbose, _ := cmd.Flags().GetBool("verbose")
			return cli.initLogging(settings.Log.Level, verbose)
		},
	}
	cli.rootCmd.SetOut(cli.out)
	cli.rootCmd.SetErr(cli.errOut)

	flags := cli.rootCmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "Also log to stderr")
	flags.String("log-level", "", "Log level (debug|info|warn|error)")
	flags.String("store-driver", "", "Content store driver (json|sqlite|memory)")
	flags.StringP("store", "s", "", "Content store path")
	flags.String("files-dir", "", "Public files directory of the store")
	flags.String("scratch-dir", "", "Directory for staging and unpacking archives")
	flags.String("blob-type", "", "Blob backend for payloads (none|gcs|local)")

	bindings := map[string]string{
		"log-level":    "log.level",
		"store-driver": "store.driver",
		"store":        "store.path",
		"files-dir":    "store.files_dir",
		"scratch-dir":  "scratch_dir",
		"blob-type":    "blob.type",
	}
	for flag, key := range bindings {
		_ = cli.v.BindPFlag(key, flags.Lookup(flag))
	}
}

func (cli *CLI) addCommands() {
	cli.addExportCommand()
	cli.addImportCommand()
	cli.addTreeCommand()
	cli.addFindCommand()
	cli.addServeCommand()
	cli.addConfigCommand()
}

// session is the set of components one command run works with.
type session struct {
	store    *store.Store
	exporter *export.Exporter
	planner  *imports.Planner
	metrics  *metrics.Metrics
	close    func()
}

// openSession opens the configured store and blob backend and builds the
// exporter and planner on top of them.
func (cli *CLI) openSession(ctx context.Context) (*session, error) {
	s := cli.settings
	st, err := s.OpenStore(store.WithLogger(logger()))
	if err != nil {
		return nil, NewStoreError("open store", err, CommonSuggestions.CheckStore, CommonSuggestions.CheckConfig)
	}
	backend, closer, err := s.OpenBlob(ctx)
	if err != nil {
		_ = st.Close()
		return nil, NewBlobError("open blob backend", err)
	}

	m := metrics.New()
	assets := s.Assets()
	exportOpts := []export.Option{
		export.WithAssets(assets),
		export.WithExcludedTypes(s.Export.ExcludeTypes...),
		export.WithScratchDir(s.ScratchDir),
		export.WithMetrics(m),
		export.WithLogger(logger()),
	}
	importOpts := []imports.Option{
		imports.WithMetrics(m),
		imports.WithLogger(logger()),
	}
	if backend != nil {
		exportOpts = append(exportOpts, export.WithBlob(backend))
		importOpts = append(importOpts, imports.WithBlob(backend))
	}

	return &session{
		store:    st,
		exporter: export.New(st, exportOpts...),
		planner:  imports.NewPlanner(st, assets, importOpts...),
		metrics:  m,
		close: func() {
			if err := closer.Close(); err != nil {
				logger().Warn("failed to close blob backend", "error", err)
			}
			if err := st.Close(); err != nil {
				logger().Warn("failed to close store", "error", err)
			}
		},
	}, nil
}

func (cli *CLI) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(cli.out, format, args...)
}
