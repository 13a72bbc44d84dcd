package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/brojonat/weektoken/service/temporal"
	"github.com/urfave/cli/v2"
)

func distributeStartCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start a workflow that mints WEEK into many token accounts",
		ArgsUsage: "MINT",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "recipient",
				Aliases: []string{"r"},
				Usage:   "Recipient as TOKEN_ACCOUNT=AMOUNT (WEEK, or base units with --raw); repeatable",
			},
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   `JSON file of recipients: [{"token_account": "...", "amount": 1000}] (amounts in base units)`,
			},
			&cli.StringFlag{
				Name:  "id",
				Usage: "Workflow ID (defaults to one derived from the mint and start time)",
			},
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Block until the distribution finishes and print its result",
			},
			rawFlag(),
		},
		Action: func(c *cli.Context) error {
			mint, err := parseAddress("mint", c.Args().First())
			if err != nil {
				return err
			}
			recipients, err := parseRecipients(c.StringSlice("recipient"), c.Bool("raw"))
			if err != nil {
				return err
			}
			if path := c.String("file"); path != "" {
				fromFile, err := loadRecipients(path)
				if err != nil {
					return err
				}
				recipients = append(recipients, fromFile...)
			}
			if len(recipients) == 0 {
				return fmt.Errorf("at least one recipient is required (--recipient or --file)")
			}

			tc, err := newTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			workflowID, err := tc.StartDistribution(c.Context, c.String("id"), temporal.DistributeTokensInput{
				Mint:       mint.String(),
				Recipients: recipients,
			})
			if err != nil {
				return err
			}

			if !c.Bool("wait") {
				if c.Bool("json") {
					return printJSON(c.App.Writer, map[string]interface{}{
						"workflow_id": workflowID,
						"mint":        mint.String(),
						"recipients":  len(recipients),
					})
				}
				fmt.Fprintf(c.App.Writer, "✓ Distribution started\n")
				fmt.Fprintf(c.App.Writer, "  Workflow ID: %s\n", workflowID)
				fmt.Fprintf(c.App.Writer, "  Recipients:  %d\n", len(recipients))
				return nil
			}

			result, err := tc.GetDistributionResult(c.Context, workflowID)
			if err != nil {
				return err
			}
			return printDistribution(c, workflowID, result)
		},
	}
}

func distributeResultCommand() *cli.Command {
	return &cli.Command{
		Name:      "result",
		Usage:     "Wait for a distribution and print its per-recipient outcome",
		ArgsUsage: "WORKFLOW_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: workflow ID")
			}
			workflowID := c.Args().First()

			tc, err := newTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			result, err := tc.GetDistributionResult(c.Context, workflowID)
			if err != nil {
				return err
			}
			return printDistribution(c, workflowID, result)
		},
	}
}

func newTemporalClient(c *cli.Context) (*temporal.Client, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		nil,
		logger,
	)
}

// parseRecipients parses TOKEN_ACCOUNT=AMOUNT pairs.
func parseRecipients(pairs []string, raw bool) ([]temporal.Recipient, error) {
	recipients := make([]temporal.Recipient, 0, len(pairs))
	for _, pair := range pairs {
		account, amountStr, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid recipient %q: expected TOKEN_ACCOUNT=AMOUNT", pair)
		}
		if _, err := parseAddress("recipient", account); err != nil {
			return nil, err
		}
		amount, err := parseAmount(amountStr, raw)
		if err != nil {
			return nil, fmt.Errorf("recipient %s: %w", account, err)
		}
		if amount == 0 {
			return nil, fmt.Errorf("recipient %s: amount must be positive", account)
		}
		recipients = append(recipients, temporal.Recipient{TokenAccount: account, Amount: amount})
	}
	return recipients, nil
}

func loadRecipients(path string) ([]temporal.Recipient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipients file: %w", err)
	}
	var recipients []temporal.Recipient
	if err := json.Unmarshal(data, &recipients); err != nil {
		return nil, fmt.Errorf("failed to parse recipients file: %w", err)
	}
	for _, r := range recipients {
		if _, err := parseAddress("recipient", r.TokenAccount); err != nil {
			return nil, err
		}
		if r.Amount == 0 {
			return nil, fmt.Errorf("recipient %s: amount must be positive", r.TokenAccount)
		}
	}
	return recipients, nil
}

func printDistribution(c *cli.Context, workflowID string, result *temporal.DistributeTokensResult) error {
	if c.Bool("json") {
		return printJSON(c.App.Writer, result)
	}
	writeDistribution(c.App.Writer, workflowID, result)
	return nil
}

func writeDistribution(out io.Writer, workflowID string, result *temporal.DistributeTokensResult) {
	fmt.Fprintf(out, "Workflow ID:  %s\n", workflowID)
	fmt.Fprintf(out, "Mint:         %s\n", result.Mint)
	fmt.Fprintf(out, "Succeeded:    %d\n", result.Succeeded)
	fmt.Fprintf(out, "Failed:       %d\n", result.Failed)
	fmt.Fprintf(out, "Total minted: %s WEEK\n", formatAmount(result.TotalMinted))
	fmt.Fprintf(out, "Duration:     %s\n\n", result.CompletedAt.Sub(result.StartedAt))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN ACCOUNT\tAMOUNT\tSTATUS\tDETAIL")
	for _, r := range result.Results {
		detail := r.Signature
		if r.Status == temporal.RecipientStatusFailed {
			detail = r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.TokenAccount, formatAmount(r.Amount), r.Status, detail)
	}
	w.Flush()
}
