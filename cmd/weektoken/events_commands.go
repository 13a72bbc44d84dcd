package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	weektoken "github.com/brojonat/weektoken/client"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func eventsCommands() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Recorded and live WEEK instruction events",
		Subcommands: []*cli.Command{
			eventsListCommand(),
			eventsStreamCommand(),
			eventsAwaitCommand(),
		},
	}
}

func mustJQFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:    "must-jq",
		Aliases: []string{"jq"},
		Usage:   "jq filter expression that must evaluate to true against the event JSON (can be specified multiple times, all must match)",
	}
}

func eventsListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List recorded instruction events, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mint", Usage: "Only events for this mint"},
			&cli.StringFlag{Name: "account", Usage: "Only events touching this account"},
			&cli.StringFlag{Name: "instruction", Usage: "Only this instruction (initialize_token, mint_tokens, transfer_tokens)"},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   20,
				Usage:   "Maximum number of events to retrieve (1-1000)",
			},
			&cli.IntFlag{
				Name:    "offset",
				Aliases: []string{"o"},
				Usage:   "Number of events to skip",
			},
			mustJQFlag(),
		},
		Action: func(c *cli.Context) error {
			limit := c.Int("limit")
			offset := c.Int("offset")
			if limit < 1 || limit > 1000 {
				return fmt.Errorf("limit must be between 1 and 1000")
			}
			if offset < 0 {
				return fmt.Errorf("offset cannot be negative")
			}

			filters, err := compileFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}
			events, err := cl.ListEvents(c.Context, weektoken.EventFilter{
				Mint:        c.String("mint"),
				Account:     c.String("account"),
				Instruction: c.String("instruction"),
				Limit:       limit,
				Offset:      offset,
			})
			if err != nil {
				return fmt.Errorf("failed to list events: %w", err)
			}

			matched := make([]*weektoken.Event, 0, len(events))
			for _, e := range events {
				if filters.match(e) {
					matched = append(matched, e)
				}
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, matched)
			}
			if len(matched) == 0 {
				fmt.Fprintln(c.App.Writer, "No events found")
				return nil
			}
			printEventTable(c.App.Writer, matched)
			return nil
		},
	}
}

func eventsStreamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream live instruction events via SSE",
		ArgsUsage: "[MINT]",
		Flags:     []cli.Flag{mustJQFlag()},
		Action: func(c *cli.Context) error {
			filters, err := compileFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			// Create context that cancels on interrupt
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			mint := c.Args().First()
			if !c.Bool("json") {
				if mint != "" {
					fmt.Fprintf(os.Stderr, "Streaming events for mint %s (Ctrl-C to stop)...\n", mint)
				} else {
					fmt.Fprintf(os.Stderr, "Streaming events for all mints (Ctrl-C to stop)...\n")
				}
			}

			err = cl.Stream(ctx, mint, func(e *weektoken.Event) error {
				if !filters.match(e) {
					return nil
				}
				if c.Bool("json") {
					data, err := json.Marshal(e)
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, string(data))
					return nil
				}
				printEventLine(c.App.Writer, e)
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func eventsAwaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until an instruction event matching criteria arrives",
		ArgsUsage: "MINT",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "signature",
				Usage: "Filter by exact transaction signature",
			},
			mustJQFlag(),
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait for the event",
			},
		},
		Action: func(c *cli.Context) error {
			mint := c.Args().First()
			if mint == "" {
				return fmt.Errorf("mint address is required")
			}
			signature := c.String("signature")
			jqFilters := c.StringSlice("must-jq")
			if signature == "" && len(jqFilters) == 0 {
				return fmt.Errorf("must specify at least one filter: --signature or --must-jq")
			}
			filters, err := compileFilters(jqFilters)
			if err != nil {
				return err
			}
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			event, err := cl.Await(ctx, mint, func(e *weektoken.Event) bool {
				if signature != "" && e.Signature != signature {
					return false
				}
				return filters.match(e)
			})
			if err != nil {
				return fmt.Errorf("failed to await event: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, event)
			}
			printEventLine(c.App.Writer, event)
			return nil
		},
	}
}

// jqFilters is a set of compiled jq programs that must all yield a truthy
// first result.
type jqFilters []*gojq.Code

func compileFilters(exprs []string) (jqFilters, error) {
	compiled := make(jqFilters, 0, len(exprs))
	for _, expr := range exprs {
		query, err := gojq.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
		}
		compiled = append(compiled, code)
	}
	return compiled, nil
}

func (f jqFilters) match(e *weektoken.Event) bool {
	if len(f) == 0 {
		return true
	}

	// gojq works on plain JSON values, not structs
	data, err := json.Marshal(e)
	if err != nil {
		return false
	}
	var input interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return false
	}

	for _, code := range f {
		v, ok := code.Run(input).Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func printEventTable(out io.Writer, events []*weektoken.Event) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tINSTRUCTION\tSTATUS\tAMOUNT\tMINT\tSIGNATURE")
	for _, e := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.Slot, e.Instruction, e.Status, formatAmount(e.Amount), e.Mint, e.Signature)
	}
	w.Flush()
}

func printEventLine(out io.Writer, e *weektoken.Event) {
	fmt.Fprintf(out, "[slot %d] %s %s", e.Slot, e.Instruction, e.Status)
	if e.Amount > 0 {
		fmt.Fprintf(out, " %s WEEK", formatAmount(e.Amount))
	}
	if e.Source != "" {
		fmt.Fprintf(out, " from %s", e.Source)
	}
	if e.Destination != "" {
		fmt.Fprintf(out, " to %s", e.Destination)
	}
	fmt.Fprintf(out, " (%s)\n", e.Signature)
	if e.Error != "" {
		fmt.Fprintf(out, "  error: %s\n", e.Error)
	}
}
