package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/config"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/db"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/errors"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/mail"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/mcp"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/ops"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/scheduler"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(database *sql.DB, cfg *config.Config, baseDir string) *cli.App {
	app := &cli.App{
		Name:    "capsula",
		Usage:   "Time-capsule store with scheduled email delivery",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(database, cfg, baseDir),
			mcpCmd(database, cfg, baseDir),
			runCmd(database, cfg, baseDir),
			createCmd(database, cfg),
			getCmd(database),
			listCmd(database),
			statsCmd(database),
			abandonCmd(database),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// newScheduler wires the SMTP channel and scheduler for delivery commands.
func newScheduler(database *sql.DB, cfg *config.Config, baseDir string) (*scheduler.Scheduler, error) {
	sender, err := mail.NewSMTPSender(cfg, db.UploadsDir(baseDir))
	if err != nil {
		return nil, err
	}
	channel := mail.NewChannel(sender, cfg.MaxAttempts, cfg.RetryDelay())
	return scheduler.New(database, channel, cfg)
}

// serveCmd runs the HTTP API with the recurring scheduler.
func serveCmd(database *sql.DB, cfg *config.Config, baseDir string) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and the recurring delivery scheduler",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-scheduler", Usage: "Serve the API without starting the recurring trigger"},
		},
		Action: func(c *cli.Context) error {
			sched, err := newScheduler(database, cfg, baseDir)
			if err != nil {
				return outputError(err)
			}

			if !c.Bool("no-scheduler") {
				if _, err := sched.Start(); err != nil {
					return outputError(err)
				}
			}

			srv := web.NewServer(database, cfg, sched)
			return web.Run(srv, sched)
		},
	}
}

// mcpCmd runs the MCP tool server over stdio.
func mcpCmd(database *sql.DB, cfg *config.Config, baseDir string) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Run the MCP tool server over stdio",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "scheduler", Usage: "Also start the recurring delivery trigger"},
		},
		Action: func(c *cli.Context) error {
			sched, err := newScheduler(database, cfg, baseDir)
			if err != nil {
				return outputError(err)
			}

			if c.Bool("scheduler") {
				if _, err := sched.Start(); err != nil {
					return outputError(err)
				}
			}

			return mcp.Run(database, cfg, sched, Version)
		},
	}
}

// runCmd fires one delivery cycle and exits.
func runCmd(database *sql.DB, cfg *config.Config, baseDir string) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run one delivery cycle now and print the result",
		Action: func(c *cli.Context) error {
			sched, err := newScheduler(database, cfg, baseDir)
			if err != nil {
				return outputError(err)
			}

			result := sched.RunCycle(context.Background())
			return outputJSON(result)
		},
	}
}

// createCmd stores a new capsule.
func createCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Store a new capsule (message read from --message or stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Submitter name", Required: true},
			&cli.StringFlag{Name: "contact", Aliases: []string{"c"}, Usage: "Recipient email address", Required: true},
			&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "Message text (reads stdin if omitted)"},
			&cli.StringFlag{Name: "deliver-at", Aliases: []string{"d"}, Usage: "Delivery time (RFC3339 or Unix seconds)", Required: true},
			&cli.StringFlag{Name: "attachment", Aliases: []string{"a"}, Usage: "Filename of a stored attachment under the uploads dir"},
		},
		Action: func(c *cli.Context) error {
			message := c.String("message")
			if message == "" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				message = string(data)
			}

			deliverAt, err := parseDeliverAt(c.String("deliver-at"))
			if err != nil {
				return outputError(err)
			}

			input := ops.CreateInput{
				Name:      c.String("name"),
				Contact:   c.String("contact"),
				Message:   message,
				DeliverAt: deliverAt,
			}
			if ref := c.String("attachment"); ref != "" {
				input.AttachmentRef = &ref
			}

			output, err := ops.Create(database, cfg, input)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// getCmd fetches one capsule by ID.
func getCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Fetch a capsule by ID",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			output, err := ops.Get(database, ops.GetInput{ID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// listCmd lists capsules.
func listCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List capsules, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter by status: pending|sent|failed"},
			&cli.StringFlag{Name: "contact", Aliases: []string{"c"}, Usage: "Filter by recipient email"},
			&cli.IntFlag{Name: "limit", Usage: "Page size (default 20, max 100)"},
			&cli.IntFlag{Name: "offset", Usage: "Page offset"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.List(database, ops.ListInput{
				Status:  c.String("status"),
				Contact: c.String("contact"),
				Limit:   c.Int("limit"),
				Offset:  c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// statsCmd prints store-wide counters.
func statsCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Capsule counts per status plus the currently due count",
		Action: func(c *cli.Context) error {
			output, err := ops.Stats(database)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// abandonCmd terminally marks a pending capsule as failed.
func abandonCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "abandon",
		Usage:     "Give up on a pending capsule (terminal failed status)",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "reason", Aliases: []string{"r"}, Usage: "Why delivery is being given up", Required: true},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Abandon(database, ops.AbandonInput{
				ID:     c.Args().First(),
				Reason: c.String("reason"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// parseDeliverAt accepts RFC3339 or Unix seconds.
func parseDeliverAt(raw string) (int64, error) {
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return unix, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, errors.NewInvalidRequest("deliver-at must be RFC3339 or Unix seconds")
	}
	return t.Unix(), nil
}

// outputJSON writes v to stdout as indented JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError renders a domain error as a CLI exit error.
func outputError(err error) error {
	if cErr, ok := err.(*errors.CapsulaError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", cErr.Code, cErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
