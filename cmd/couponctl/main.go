// couponctl evaluates coupon selections from the command line.
//
// Usage:
//
//	couponctl solve --budget 5 A=1.00 B=2.10
//	couponctl calculate --budget 500 MLA1 MLA2 MLA3
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/noah-isme/backend-coupon/internal/app"
	"github.com/noah-isme/backend-coupon/internal/config"
	"github.com/noah-isme/backend-coupon/internal/coupon"
	"github.com/noah-isme/backend-coupon/internal/obs"
	"github.com/noah-isme/backend-coupon/internal/prices"
	"github.com/noah-isme/backend-coupon/internal/pricing"
)

var version = "dev"

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:      "couponctl",
		Usage:     "Pick the items that make the most of a coupon amount",
		Version:   version,
		Writer:    out,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Value:   "text",
				Usage:   "Output format (text, json)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"OBS_LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			solveCommand(),
			calculateCommand(),
		},
	}
}

func budgetFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "budget",
		Aliases:  []string{"b"},
		Usage:    "Coupon amount, e.g. 500 or 21.30",
		Required: true,
	}
}

func solveCommand() *cli.Command {
	return &cli.Command{
		Name:      "solve",
		Usage:     "Solve for explicit prices without any lookups",
		ArgsUsage: "ID=PRICE [ID=PRICE...]",
		Flags: []cli.Flag{
			budgetFlag(),
			&cli.IntFlag{
				Name:  "scale",
				Value: int(pricing.Cents),
				Usage: "Decimal places kept by the optimizer",
			},
		},
		Action: func(c *cli.Context) error {
			budget, err := decimal.NewFromString(c.String("budget"))
			if err != nil {
				return fmt.Errorf("invalid budget: %w", err)
			}
			catalog, err := parseCatalog(c.Args().Slice())
			if err != nil {
				return err
			}
			optimizer, err := coupon.NewOptimizer(pricing.Scale(c.Int("scale")), coupon.DefaultMaxTableCells)
			if err != nil {
				return err
			}
			sol, err := optimizer.Calculate(catalog, budget)
			if err != nil {
				return err
			}
			return printSolution(c, sol)
		},
	}
}

func calculateCommand() *cli.Command {
	return &cli.Command{
		Name:      "calculate",
		Usage:     "Resolve prices through the configured cache and item API, then solve",
		ArgsUsage: "ID [ID...]",
		Flags: []cli.Flag{
			budgetFlag(),
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 30 * time.Second,
				Usage: "Overall deadline for the calculation",
			},
		},
		Action: func(c *cli.Context) error {
			budget, err := decimal.NewFromString(c.String("budget"))
			if err != nil {
				return fmt.Errorf("invalid budget: %w", err)
			}
			ids := c.Args().Slice()
			if len(ids) == 0 {
				return errors.New("at least one item id is required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := obs.NewLogger("console", c.String("log-level"))

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			deps, err := app.Build(ctx, cfg, logger, app.Options{})
			if err != nil {
				return err
			}
			defer func() {
				if err := deps.Close(); err != nil {
					logger.Error().Err(err).Msg("close dependencies")
				}
			}()

			sol, err := deps.Coupons.Calculate(logger.WithContext(ctx), ids, budget)
			if err != nil {
				var resErr *prices.ResolutionError
				if errors.As(err, &resErr) {
					for _, id := range resErr.Missing {
						logEvent(logger, resErr.Cause(id)).Str("item_id", id).Msg("no price")
					}
				}
				return err
			}
			return printSolution(c, sol)
		},
	}
}

func logEvent(logger zerolog.Logger, cause error) *zerolog.Event {
	if cause == nil || errors.Is(cause, prices.ErrNoPrice) {
		return logger.Warn()
	}
	return logger.Warn().Err(cause)
}

// parseCatalog reads ID=PRICE pairs.
func parseCatalog(args []string) (prices.Catalog, error) {
	if len(args) == 0 {
		return nil, errors.New("at least one ID=PRICE pair is required")
	}
	catalog := make(prices.Catalog, len(args))
	for _, arg := range args {
		id, raw, ok := strings.Cut(arg, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid item %q, expected ID=PRICE", arg)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid price for %s: %w", id, err)
		}
		if _, dup := catalog[id]; dup {
			return nil, fmt.Errorf("duplicate item %s", id)
		}
		catalog[id] = price
	}
	return catalog, nil
}

func printSolution(c *cli.Context, sol coupon.Solution) error {
	out := c.App.Writer
	switch strings.ToLower(c.String("format")) {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"item_ids": sol.ItemIDs,
			"total":    json.Number(sol.Total.String()),
		})
	case "text", "":
		fmt.Fprintf(out, "items: %s\n", strings.Join(sol.ItemIDs, ", "))
		fmt.Fprintf(out, "total: %s\n", sol.Total.String())
		return nil
	default:
		return fmt.Errorf("unsupported format %q", c.String("format"))
	}
}
