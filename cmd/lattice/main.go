// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/lattice"
	"github.com/poiesic/lattice/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// newApp builds the command tree. opts are passed to every knowledge base
// the commands open.
func newApp(opts ...lattice.Option) *cli.App {
	kbOpen := func(c *cli.Context) (*lattice.KnowledgeBase, error) {
		return openKnowledgeBase(c, opts...)
	}
	return &cli.App{
		Name:  "lattice",
		Usage: "Hybrid graph and vector knowledge base",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML or TOML configuration file",
				EnvVars: []string{"LATTICE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Database directory, overrides the configured storage path",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add a document from a file, from --text, or one per line of --lines",
				ArgsUsage: "[FILE]",
				Action:    addCommand(kbOpen),
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "text",
						Aliases: []string{"t"},
						Usage:   "Document text",
					},
					&cli.StringFlag{
						Name:  "title",
						Usage: "Document title when adding --text",
					},
					&cli.StringFlag{
						Name:  "lines",
						Usage: "File whose non-empty lines are added as separate documents",
					},
				},
			},
			{
				Name:      "add-folder",
				Usage:     "Add every supported file below a folder",
				ArgsUsage: "PATH",
				Action:    addFolderCommand(kbOpen),
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "async",
						Usage: "Run as a background job and print its ID",
					},
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "Show job progress while an async job runs",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search by vector similarity and concept graph traversal",
				ArgsUsage: "QUERY...",
				Action:    searchCommand(kbOpen),
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "n",
						Aliases: []string{"results"},
						Usage:   "Number of vector results (0 uses the configured value)",
					},
					&cli.IntFlag{
						Name:  "hops",
						Usage: "Maximum graph hops (-1 uses the configured value)",
						Value: -1,
					},
					&cli.BoolFlag{
						Name:  "explain",
						Usage: "Print what each search stage found",
					},
				},
			},
			{
				Name:      "concept",
				Usage:     "Show a concept, its related concepts and the documents mentioning it",
				ArgsUsage: "NAME...",
				Action:    conceptCommand(kbOpen),
			},
			{
				Name:      "delete",
				Usage:     "Delete a document with its chunks, vectors and mentions",
				ArgsUsage: "DOCUMENT_ID",
				Action:    deleteCommand(kbOpen),
			},
			{
				Name:   "reembed",
				Usage:  "Embed every chunk again with the configured embedding provider",
				Action: reembedCommand(kbOpen),
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "collection",
						Usage: "Target vector collection (defaults to the configured one)",
					},
				},
			},
			{
				Name:   "rechunk",
				Usage:  "Split every document again with new chunk settings",
				Action: rechunkCommand(kbOpen),
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:     "size",
						Usage:    "Maximum chunk length in characters",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "overlap",
						Usage: "Characters carried into the next chunk",
					},
				},
			},
			{
				Name:  "jobs",
				Usage: "Inspect and cancel ingestion jobs",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List jobs, newest first",
						Action: jobsListCommand(kbOpen),
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "status",
								Usage: "Only jobs with this status",
							},
							&cli.StringFlag{
								Name:  "type",
								Usage: "Only jobs of this type (single-document, folder-batch)",
							},
							&cli.IntFlag{
								Name:  "limit",
								Usage: "Maximum number of jobs",
								Value: 20,
							},
						},
					},
					{
						Name:      "status",
						Usage:     "Show a job",
						ArgsUsage: "JOB_ID",
						Action:    jobStatusCommand(kbOpen),
					},
					{
						Name:      "cancel",
						Usage:     "Cancel a pending or running job",
						ArgsUsage: "JOB_ID",
						Action:    jobCancelCommand(kbOpen),
					},
				},
			},
		},
	}
}

type opener func(c *cli.Context) (*lattice.KnowledgeBase, error)

func openKnowledgeBase(c *cli.Context, opts ...lattice.Option) (*lattice.KnowledgeBase, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if db := c.String("db"); db != "" {
		cfg.Storage.Path = db
	}
	opts = append([]lattice.Option{lattice.WithLogger(slog.Default())}, opts...)
	kb, err := lattice.Open(c.Context, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge base: %w", err)
	}
	return kb, nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
