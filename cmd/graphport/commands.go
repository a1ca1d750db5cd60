package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arthur-debert/graphport/graphport/export"
	imports "github.com/arthur-debert/graphport/graphport/import"
	"github.com/arthur-debert/graphport/graphport/search"
	"github.com/arthur-debert/graphport/graphport/server"
	"github.com/arthur-debert/graphport/graphport/tree"
	"github.com/arthur-debert/graphport/internal/validation"
	"github.com/arthur-debert/graphport/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// addExportCommand adds the export command
func (cli *CLI) addExportCommand() {
	exportCmd := &cobra.Command{
		Use:   "export <type> <id>",
		Short: "Export an entity and everything it references",
		Long: `Export an entity, the entities it references and their file payloads.

By default a .tgz package holding the YAML document and the files is written.
With --blob, payloads are uploaded to the blob backend and only the YAML
document is written.

Examples:
  graphport export node 5 -o ./exports
  graphport export node 5 --blob --filename weekly
  graphport export node 5 --obfuscate 'user.user.mail,node.*.body' -o - > out.tgz`,

		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.executeExportCommand(cmd, args[0], args[1])
		},
	}

	flags := exportCmd.Flags()
	flags.Bool("blob", false, "Upload payloads to the blob backend")
	flags.Bool("user", false, "Include user entities")
	flags.StringSlice("obfuscate", nil, "type.bundle.field patterns whose text is masked")
	flags.String("filename", "", "Package base name (random when empty)")
	flags.StringP("output", "o", ".", "Output file or directory, - for stdout")

	cli.rootCmd.AddCommand(exportCmd)
}

func (cli *CLI) executeExportCommand(cmd *cobra.Command, entityType, id string) error {
	toBlob, _ := cmd.Flags().GetBool("blob")
	includeUser, _ := cmd.Flags().GetBool("user")
	obfuscate, _ := cmd.Flags().GetStringSlice("obfuscate")
	filename, _ := cmd.Flags().GetString("filename")
	output, _ := cmd.Flags().GetString("output")

	for _, pattern := range obfuscate {
		if err := validation.ValidateFieldPattern(pattern); err != nil {
			return NewValidationError("export", "obfuscation pattern", pattern,
				"Patterns have the form type.bundle.field, e.g. node.article.body")
		}
	}

	rt, err := cli.openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	req := export.Request{
		Roots:       []types.NodeRef{{Type: entityType, ID: id}},
		ToBlob:      toBlob,
		IncludeUser: includeUser,
		Obfuscate:   append(append([]string(nil), cli.settings.Export.Obfuscate...), obfuscate...),
		Filename:    filename,
	}

	if output == "-" {
		_, err := rt.exporter.Export(cmd.Context(), cli.out, req)
		return WrapError("export", err)
	}

	result, err := rt.exporter.ExportToPath(cmd.Context(), output, req)
	if err != nil {
		return WrapError("export", err)
	}
	cli.printf("Exported %d records to %s\n", len(result.Records), result.Filename)
	return nil
}

// addImportCommand adds the import command
func (cli *CLI) addImportCommand() {
	importCmd := &cobra.Command{
		Use:   "import <archive>",
		Short: "Import an archive into the content store",
		Long: `Replay an archive produced by 'graphport export'. Records are created
deepest level first and references are rewritten to the new local ids.

Examples:
  graphport import ./exports/weekly.tgz
  graphport import ./weekly.yml --uri /cats --uid 1
  graphport import ./weekly.tgz --dry-run --json`,

		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.executeImportCommand(cmd, args[0])
		},
	}

	flags := importCmd.Flags()
	flags.String("uri", "", "URL alias of the imported root entity")
	flags.String("uid", "", "Author id set on every created entity")
	flags.Bool("keep-timestamps", false, "Keep created/changed values from the archive")
	flags.Bool("dry-run", false, "Plan the import without creating anything")
	flags.Bool("json", false, "Print the import ledger as JSON")

	cli.rootCmd.AddCommand(importCmd)
}

func (cli *CLI) executeImportCommand(cmd *cobra.Command, path string) error {
	uri, _ := cmd.Flags().GetString("uri")
	uid, _ := cmd.Flags().GetString("uid")
	keepTimestamps, _ := cmd.Flags().GetBool("keep-timestamps")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	asJSON, _ := cmd.Flags().GetBool("json")

	if !imports.Supported(path) {
		return WrapError("import", &types.FormatError{Path: path, Err: types.ErrUnsupportedFormat})
	}

	rt, err := cli.openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	options := cli.settings.ImportOptions()
	options.URLAlias = uri
	options.Author = uid
	options.DryRun = dryRun
	if keepTimestamps {
		options.RemoveTimestamps = false
	}

	result, importErr := rt.planner.ImportFromPath(cmd.Context(), path, options,
		imports.WithScratchDir(cli.settings.ScratchDir), imports.WithReaderLogger(logger()))
	if result != nil {
		if asJSON {
			enc := json.NewEncoder(cli.out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("failed to write ledger: %w", err)
			}
		} else {
			cli.printLedger(result, dryRun)
		}
	}
	return WrapError("import", importErr)
}

func (cli *CLI) printLedger(result *imports.ImportResult, dryRun bool) {
	for _, c := range result.Created {
		cli.printf("created  %-14s %s -> %s\n", c.Type, c.EntityID, c.ID)
	}
	for _, s := range result.Skipped {
		cli.printf("skipped  %-14s %s (%s)\n", s.Type, s.EntityID, s.Reason)
	}
	for _, w := range result.Warnings {
		cli.printf("warning  %-14s %s %s: %s -> %s\n", w.Type, w.EntityID, w.Field, w.Kind, w.Target)
	}
	if result.Failed != nil {
		cli.printf("failed   %-14s %s: %s\n", result.Failed.Type, result.Failed.EntityID, result.Failed.Error)
	}
	cli.printf("\nImport %s: %d/%d records created, %d skipped, %d warnings in %s\n",
		result.State,
		result.Summary.Created,
		result.Summary.TotalRecords,
		result.Summary.Skipped,
		result.Summary.WarningsCount,
		result.Summary.ProcessingTime)
	if dryRun {
		cli.printf("  (DRY RUN - %d records planned over %d levels)\n", len(result.Planned), result.Summary.Levels)
	}
}

// addTreeCommand adds the tree command
func (cli *CLI) addTreeCommand() {
	treeCmd := &cobra.Command{
		Use:   "tree <type> <id>",
		Short: "Show the dependency tree an export would cover",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			includeUser, _ := cmd.Flags().GetBool("user")

			rt, err := cli.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			node, err := rt.exporter.Tree(cmd.Context(), args[0], args[1], includeUser)
			if err != nil {
				return WrapError("build tree", err)
			}
			return tree.Render(cli.out, node)
		},
	}
	treeCmd.Flags().Bool("user", false, "Include user entities")

	cli.rootCmd.AddCommand(treeCmd)
}

// addFindCommand adds the find command
func (cli *CLI) addFindCommand() {
	findCmd := &cobra.Command{
		Use:   "find <query>",
		Short: "Find entities to use as export roots",
		Long: `Search entity labels and text fields. Each result line starts with the
type and id to pass to 'graphport export'.

Examples:
  graphport find cats
  graphport find News --type taxonomy_term --exact`,

		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityTypes, _ := cmd.Flags().GetStringSlice("type")
			fields, _ := cmd.Flags().GetStringSlice("field")
			exact, _ := cmd.Flags().GetBool("exact")
			caseSensitive, _ := cmd.Flags().GetBool("case-sensitive")
			limit, _ := cmd.Flags().GetInt("limit")

			rt, err := cli.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			results, err := search.NewEngine(rt.store).Search(search.Options{
				Query:           args[0],
				Types:           entityTypes,
				Fields:          fields,
				ExactMatch:      exact,
				CaseSensitive:   caseSensitive,
				EnableHighlight: true,
				MaxResults:      limit,
			})
			if err != nil {
				return WrapError("search", err)
			}
			if len(results) == 0 {
				cli.printf("No entities match %q\n", args[0])
				return nil
			}
			for _, r := range results {
				text := r.Label
				if h, ok := r.Highlights[r.MatchedFields[0]]; ok {
					text = h
				}
				cli.printf("%s %s\t%s\t%.2f\t%s\n", r.Type, r.ID, r.Bundle, r.Score, text)
			}
			return nil
		},
	}

	flags := findCmd.Flags()
	flags.StringSlice("type", nil, "Entity types to search (default all content types)")
	flags.StringSlice("field", nil, "Fields to search (default label and text fields)")
	flags.Bool("exact", false, "Match whole field values only")
	flags.Bool("case-sensitive", false, "Match case")
	flags.Int("limit", 20, "Maximum number of results, 0 for all")

	cli.rootCmd.AddCommand(findCmd)
}

// addServeCommand adds the serve command
func (cli *CLI) addServeCommand() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve exports and imports over HTTP",
		Long: `Serve the HTTP API:

  GET  /export/{type}/{id}?blob=&user=&filename=&obfuscate=
  POST /import   (multipart: file, uri, uid, remove_timestamp, dry_run)
  GET  /metrics
  GET  /health`,

		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := cli.openSession(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			s := cli.settings
			srv := server.New(rt.exporter, rt.planner,
				server.WithImportOptions(s.ImportOptions()),
				server.WithObfuscate(s.Export.Obfuscate...),
				server.WithScratchDir(s.ScratchDir),
				server.WithMaxUploadSize(s.Server.MaxUploadSize),
				server.WithMetrics(rt.metrics),
				server.WithLogger(logger()))

			cli.printf("Serving on %s\n", s.Server.Addr)
			return srv.ListenAndServe(ctx, s.Server.Addr)
		},
	}
	serveCmd.Flags().String("addr", "", "Listen address, e.g. :8080")
	_ = cli.v.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))

	cli.rootCmd.AddCommand(serveCmd)
}

// addConfigCommand adds the config command group
func (cli *CLI) addConfigCommand() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective settings as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := yaml.NewEncoder(cli.out)
			enc.SetIndent(2)
			if err := enc.Encode(cli.settings); err != nil {
				return fmt.Errorf("failed to print settings: %w", err)
			}
			return enc.Close()
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the settings and report the file they came from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			source := cli.v.ConfigFileUsed()
			if source == "" {
				source = "defaults and environment"
			}
			cli.printf("Configuration is valid (%s)\n", source)
			return nil
		},
	})

	cli.rootCmd.AddCommand(configCmd)
}
