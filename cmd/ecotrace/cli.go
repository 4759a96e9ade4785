// Copyright (c) 2026 John Earle
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
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ecotrace/ingestion/internal/app"
	"github.com/ecotrace/ingestion/internal/config"
	"github.com/ecotrace/ingestion/internal/report"
	"github.com/ecotrace/ingestion/internal/webhook"
)

// env supplies configuration and wiring to the commands.
type env struct {
	loadConfig func() (*config.Config, error)
	newApp     func(ctx context.Context, cfg *config.Config) (*app.App, error)
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(e env) *cli.App {
	a := &cli.App{
		Name:    "ecotrace",
		Usage:   "Sustainability invoice ingestion",
		Version: Version,
		Commands: []*cli.Command{
			runCmd(e),
			backfillCmd(e),
			reportCmd(e),
			callbackCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	a.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return a
}

// runCmd performs a single pipeline run.
func runCmd(e env) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the ingestion pipeline once",
		Action: func(c *cli.Context) error {
			return e.withApp(c, nil, func(a *app.App) error {
				return runOnce(c, a)
			})
		},
	}
}

// backfillCmd performs a single run over a wider recency window.
func backfillCmd(e env) *cli.Command {
	return &cli.Command{
		Name:  "backfill",
		Usage: "Run the ingestion pipeline once over older mail",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "since", Value: 720 * time.Hour, Usage: "Lookback duration (e.g. 168h for 1 week, 720h for 30 days)"},
		},
		Action: func(c *cli.Context) error {
			widen := func(cfg *config.Config) error {
				since := c.Duration("since")
				if since <= 0 {
					return fmt.Errorf("invalid --since duration %s", since)
				}
				if days := lookbackDays(since); days > cfg.Mailbox.NewerThanDays {
					cfg.Mailbox.NewerThanDays = days
				}
				return nil
			}
			return e.withApp(c, widen, func(a *app.App) error {
				return runOnce(c, a)
			})
		},
	}
}

// reportCmd writes the yearly sustainability report as a PDF file.
func reportCmd(e env) *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Generate the yearly sustainability report",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "year", Aliases: []string{"y"}, Usage: "Report year (defaults to the current year)"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output directory (defaults to report.output_dir)"},
		},
		Action: func(c *cli.Context) error {
			var (
				year   int
				outDir string
			)
			prepare := func(cfg *config.Config) error {
				outDir = cfg.ReportOutputDir
				if d := c.String("out"); d != "" {
					outDir = d
				}
				year = time.Now().In(cfg.Location).Year()
				if y := c.String("year"); y != "" {
					parsed, err := report.ParseYear(y)
					if err != nil {
						return err
					}
					year = parsed
				}
				return nil
			}
			return e.withApp(c, prepare, func(a *app.App) error {
				path, err := writeReport(c.Context, a.Generator, outDir, year)
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				return outputJSON(c.App.Writer, map[string]any{"year": year, "path": path})
			})
		},
	}
}

// callbackCmd applies a completion callback without going through HTTP.
func callbackCmd(e env) *cli.Command {
	return &cli.Command{
		Name:  "callback",
		Usage: "Apply a workflow completion result to the invoice store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "invoice", Aliases: []string{"i"}, Required: true, Usage: "Invoice number"},
			&cli.BoolFlag{Name: "success", Usage: "Workflow succeeded (rows are kept)"},
		},
		Action: func(c *cli.Context) error {
			return e.withApp(c, nil, func(a *app.App) error {
				invoice, err := json.Marshal(c.String("invoice"))
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				msg := a.Callback.Complete(c.Context, webhook.CompletionRequest{
					InvoiceNb: invoice,
					Success:   json.RawMessage(strconv.FormatBool(c.Bool("success"))),
				})
				return outputJSON(c.App.Writer, map[string]string{"message": msg})
			})
		},
	}
}

// withApp loads configuration, applies adjust, wires the components and
// runs fn.
func (e env) withApp(c *cli.Context, adjust func(*config.Config) error, fn func(*app.App) error) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if adjust != nil {
		if err := adjust(cfg); err != nil {
			return cli.Exit(err.Error(), 1)
		}
	}

	a, err := e.newApp(c.Context, cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer a.Close()
	return fn(a)
}

func runOnce(c *cli.Context, a *app.App) error {
	res, err := a.Runner.Run(c.Context)
	if res != nil {
		if oerr := outputJSON(c.App.Writer, res); oerr != nil {
			return oerr
		}
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("run failed: %v", err), 1)
	}
	return nil
}

func writeReport(ctx context.Context, gen *report.Generator, dir string, year int) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(dir, report.FileName(year))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report file: %w", err)
	}
	if err := gen.GenerateYear(ctx, year, f); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("write report file: %w", err)
	}
	return path, nil
}

// lookbackDays converts a lookback duration to whole days, rounding up.
func lookbackDays(d time.Duration) int {
	return int(math.Ceil(d.Hours() / 24))
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
