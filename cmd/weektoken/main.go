package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "weektoken",
		Usage: "WEEK token command-line client",
		Description: `A command-line tool for the WEEK token program.

Use this CLI to create mints and token accounts, mint and transfer WEEK,
inspect recorded instruction events, and run token distributions.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			keygenCommand(),
			airdropCommand(),
			{
				Name:  "mint",
				Usage: "Mint management commands",
				Subcommands: []*cli.Command{
					mintInitCommand(),
					mintInfoCommand(),
					mintListCommand(),
				},
			},
			{
				Name:  "account",
				Usage: "Token account commands",
				Subcommands: []*cli.Command{
					accountCreateCommand(),
					accountBalanceCommand(),
				},
			},
			mintToCommand(),
			transferCommand(),
			txCommand(),
			eventsCommands(),
			{
				Name:  "distribute",
				Usage: "Token distribution workflows (requires Temporal)",
				Subcommands: []*cli.Command{
					distributeStartCommand(),
					distributeResultCommand(),
				},
			},
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: globalFlags(),
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server-url",
			Usage:   "Validator API URL",
			EnvVars: []string{"SERVER_URL"},
			Value:   "http://localhost:8080",
		},
		&cli.StringFlag{
			Name:    "network",
			Usage:   "localnet uses the validator API; devnet or mainnet use --rpc-url for token commands",
			EnvVars: []string{"NETWORK"},
			Value:   "localnet",
		},
		&cli.StringFlag{
			Name:    "rpc-url",
			Usage:   "Comma-separated cluster RPC endpoints, one chosen at random",
			EnvVars: []string{"SOLANA_RPC_URLS"},
		},
		&cli.StringFlag{
			Name:    "keypair",
			Aliases: []string{"k"},
			Usage:   "Path to the payer/authority keypair (Solana CLI JSON format)",
			EnvVars: []string{"AUTHORITY_KEYPAIR"},
		},
		&cli.StringFlag{
			Name:    "temporal-host",
			Usage:   "Temporal server address",
			EnvVars: []string{"TEMPORAL_HOST"},
			Value:   "localhost:7233",
		},
		&cli.StringFlag{
			Name:    "temporal-namespace",
			Usage:   "Temporal namespace",
			EnvVars: []string{"TEMPORAL_NAMESPACE"},
			Value:   "default",
		},
		&cli.StringFlag{
			Name:    "temporal-task-queue",
			Usage:   "Temporal task queue the distribution worker listens on",
			EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
			Value:   "weektoken-distribution",
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Output in JSON format",
		},
	}
}
