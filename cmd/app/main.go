package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/rewind/internal"
	pkgconfig "github.com/starford/rewind/pkg/config"
)

const defaultConfigFile = "config/config.yaml"

func loadOptions(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadWithDefaults(configPath, defaultConfigFile, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return []internal.Option{
		internal.WithConfig(cfg),
	}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	if err := internal.RunMCP(ctx, opts...); err != nil {
		return fmt.Errorf("mcp run error: %w", err)
	}
	return nil
}

func listHistory(_ context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	store, err := internal.OpenHistory(opts...)
	if err != nil {
		return err
	}
	defer store.Close()

	rows, err := store.List()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("history is empty")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POSITION\tTYPE\tRECORDED\tCHECKSUM")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.12s\n", r.Position, r.Type, r.CreatedAt.Local().Format(time.DateTime), r.Checksum)
	}
	return tw.Flush()
}

func clearHistory(_ context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	store, err := internal.OpenHistory(opts...)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Clear()
}

func exportHistory(_ context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("export: output file required")
	}
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	store, err := internal.OpenHistory(opts...)
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	n, err := store.Export(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Printf("exported %d commands to %s\n", n, path)
	return nil
}

func importHistory(_ context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("import: input file required")
	}
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	store, err := internal.OpenHistory(opts...)
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	defer f.Close()
	n, err := store.Import(f)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d commands from %s\n", n, path)
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "rewind",
		Usage:  "Undo history for file operations, shared between cooperating instances",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: defaultConfigFile,
				Value:       defaultConfigFile,
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API (default)",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdin/stdout",
				Action: serveMCP,
			},
			{
				Name:  "history",
				Usage: "Inspect the stored undo history",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List stored commands, newest first",
						Action: listHistory,
					},
					{
						Name:   "clear",
						Usage:  "Remove every stored command",
						Action: clearHistory,
					},
					{
						Name:      "export",
						Usage:     "Write the stored history to a snapshot file",
						ArgsUsage: "<file>",
						Action:    exportHistory,
					},
					{
						Name:      "import",
						Usage:     "Replace the stored history with a snapshot file; running instances pick it up on restart",
						ArgsUsage: "<file>",
						Action:    importHistory,
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
