package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/brojonat/weektoken/service/program"
	"github.com/brojonat/weektoken/service/runtime"
	"github.com/brojonat/weektoken/service/txn"
	"github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Generate a new keypair file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "outfile",
				Aliases:  []string{"o"},
				Usage:    "Where to write the keypair",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			key, err := solana.NewRandomPrivateKey()
			if err != nil {
				return fmt.Errorf("failed to generate keypair: %w", err)
			}
			if err := txn.SaveKeypair(c.String("outfile"), key); err != nil {
				return err
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, map[string]string{
					"address": key.PublicKey().String(),
					"path":    c.String("outfile"),
				})
			}
			fmt.Fprintf(c.App.Writer, "✓ Keypair written to %s\n", c.String("outfile"))
			fmt.Fprintf(c.App.Writer, "  Address: %s\n", key.PublicKey())
			return nil
		},
	}
}

func airdropCommand() *cli.Command {
	return &cli.Command{
		Name:      "airdrop",
		Usage:     "Request lamports from the local validator or the cluster faucet",
		ArgsUsage: "[ADDRESS]",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:  "lamports",
				Usage: "Lamports to credit",
				Value: 1_000_000_000,
			},
		},
		Action: func(c *cli.Context) error {
			var address solana.PublicKey
			if c.NArg() > 0 {
				pk, err := parseAddress("recipient", c.Args().First())
				if err != nil {
					return err
				}
				address = pk
			} else {
				key, err := loadAuthority(c)
				if err != nil {
					return fmt.Errorf("address argument or keypair is required: %w", err)
				}
				address = key.PublicKey()
			}

			l, err := newLedger(c)
			if err != nil {
				return err
			}
			sig, err := l.Airdrop(c.Context, address, c.Uint64("lamports"))
			if err != nil {
				return fmt.Errorf("airdrop failed: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, map[string]interface{}{
					"address":   address.String(),
					"lamports":  c.Uint64("lamports"),
					"signature": sig.String(),
				})
			}
			fmt.Fprintf(c.App.Writer, "✓ Airdropped %d lamports to %s\n", c.Uint64("lamports"), address)
			fmt.Fprintf(c.App.Writer, "  Signature: %s\n", sig)
			return nil
		},
	}
}

func mintInitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Create and initialize a WEEK mint with the keypair as mint authority",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "mint-keypair",
				Usage: "Keypair for the mint address; generated and saved here when the file does not exist",
			},
		},
		Action: func(c *cli.Context) error {
			authority, err := loadAuthority(c)
			if err != nil {
				return err
			}
			mint, err := loadOrCreateKeypair(c.String("mint-keypair"))
			if err != nil {
				return err
			}

			l, err := newLedger(c)
			if err != nil {
				return err
			}
			sig, err := txn.Submit(c.Context, l, cliLogger(), authority, []solana.PrivateKey{mint},
				program.NewInitializeTokenInstruction(program.Decimals, mint.PublicKey(), authority.PublicKey()).Build(),
			)
			if err != nil {
				return fmt.Errorf("failed to initialize mint: %w", explainError(err))
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, map[string]interface{}{
					"mint":      mint.PublicKey().String(),
					"authority": authority.PublicKey().String(),
					"decimals":  program.Decimals,
					"signature": sig.String(),
				})
			}
			fmt.Fprintf(c.App.Writer, "✓ Mint initialized\n")
			fmt.Fprintf(c.App.Writer, "  Mint:      %s\n", mint.PublicKey())
			fmt.Fprintf(c.App.Writer, "  Authority: %s\n", authority.PublicKey())
			fmt.Fprintf(c.App.Writer, "  Decimals:  %d\n", program.Decimals)
			fmt.Fprintf(c.App.Writer, "  Signature: %s\n", sig)
			return nil
		},
	}
}

func mintInfoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "Show a mint's supply and authority",
		ArgsUsage: "MINT",
		Action: func(c *cli.Context) error {
			mintAddr, err := parseAddress("mint", c.Args().First())
			if err != nil {
				return err
			}
			l, err := newLedger(c)
			if err != nil {
				return err
			}
			mint, err := l.GetMint(c.Context, mintAddr)
			if err != nil {
				return fmt.Errorf("failed to get mint: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, mint)
			}
			authority := "(none)"
			if mint.MintAuthority != nil {
				authority = *mint.MintAuthority
			}
			fmt.Fprintf(c.App.Writer, "Mint:      %s\n", mint.Address)
			fmt.Fprintf(c.App.Writer, "Authority: %s\n", authority)
			fmt.Fprintf(c.App.Writer, "Decimals:  %d\n", mint.Decimals)
			fmt.Fprintf(c.App.Writer, "Supply:    %s WEEK (%d)\n", formatAmount(mint.Supply), mint.Supply)
			return nil
		},
	}
}

func mintListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List mints initialized through the WEEK program (requires the server's event log)",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   100,
				Usage:   "Maximum number of mints to retrieve (1-1000)",
			},
			&cli.IntFlag{
				Name:    "offset",
				Aliases: []string{"o"},
				Usage:   "Number of mints to skip",
			},
		},
		Action: func(c *cli.Context) error {
			if c.Int("limit") < 1 || c.Int("limit") > 1000 {
				return fmt.Errorf("limit must be between 1 and 1000")
			}
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}
			mints, err := cl.ListMints(c.Context, c.Int("limit"), c.Int("offset"))
			if err != nil {
				return fmt.Errorf("failed to list mints: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, mints)
			}
			if len(mints) == 0 {
				fmt.Fprintln(c.App.Writer, "No mints found")
				return nil
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MINT\tAUTHORITY\tDECIMALS\tSLOT")
			for _, m := range mints {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", m.Address, m.MintAuthority, m.Decimals, m.CreatedSlot)
			}
			return w.Flush()
		},
	}
}

func accountCreateCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a token account for a mint",
		ArgsUsage: "MINT",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "owner",
				Usage: "Owner of the new token account (defaults to the keypair)",
			},
			&cli.StringFlag{
				Name:  "account-keypair",
				Usage: "Keypair for the account address; generated and saved here when the file does not exist",
			},
		},
		Action: func(c *cli.Context) error {
			mint, err := parseAddress("mint", c.Args().First())
			if err != nil {
				return err
			}
			payer, err := loadAuthority(c)
			if err != nil {
				return err
			}
			owner := payer.PublicKey()
			if c.String("owner") != "" {
				if owner, err = parseAddress("owner", c.String("owner")); err != nil {
					return err
				}
			}
			account, err := loadOrCreateKeypair(c.String("account-keypair"))
			if err != nil {
				return err
			}

			l, err := newLedger(c)
			if err != nil {
				return err
			}
			rent, err := l.MinimumBalance(c.Context, runtime.TokenAccountSize)
			if err != nil {
				return fmt.Errorf("failed to get rent-exempt balance: %w", err)
			}
			sig, err := txn.Submit(c.Context, l, cliLogger(), payer, []solana.PrivateKey{account},
				txn.CreateTokenAccountInstructions(payer.PublicKey(), account.PublicKey(), mint, owner, rent)...,
			)
			if err != nil {
				return fmt.Errorf("failed to create token account: %w", explainError(err))
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, map[string]string{
					"account":   account.PublicKey().String(),
					"mint":      mint.String(),
					"owner":     owner.String(),
					"signature": sig.String(),
				})
			}
			fmt.Fprintf(c.App.Writer, "✓ Token account created\n")
			fmt.Fprintf(c.App.Writer, "  Account:   %s\n", account.PublicKey())
			fmt.Fprintf(c.App.Writer, "  Mint:      %s\n", mint)
			fmt.Fprintf(c.App.Writer, "  Owner:     %s\n", owner)
			fmt.Fprintf(c.App.Writer, "  Signature: %s\n", sig)
			return nil
		},
	}
}

func accountBalanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show a token account's balance",
		ArgsUsage: "ACCOUNT",
		Action: func(c *cli.Context) error {
			address, err := parseAddress("account", c.Args().First())
			if err != nil {
				return err
			}
			l, err := newLedger(c)
			if err != nil {
				return err
			}
			acct, err := l.GetTokenAccount(c.Context, address)
			if err != nil {
				return fmt.Errorf("failed to get token account: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, acct)
			}
			fmt.Fprintf(c.App.Writer, "Account: %s\n", acct.Address)
			fmt.Fprintf(c.App.Writer, "Mint:    %s\n", acct.Mint)
			fmt.Fprintf(c.App.Writer, "Owner:   %s\n", acct.Owner)
			fmt.Fprintf(c.App.Writer, "State:   %s\n", acct.State)
			fmt.Fprintf(c.App.Writer, "Balance: %s WEEK (%d)\n", formatAmount(acct.Amount), acct.Amount)
			return nil
		},
	}
}

func rawFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "raw",
		Usage: "Treat AMOUNT as base units instead of WEEK",
	}
}

func mintToCommand() *cli.Command {
	return &cli.Command{
		Name:      "mint-to",
		Usage:     "Mint new tokens into a token account (keypair must be the mint authority)",
		ArgsUsage: "MINT ACCOUNT AMOUNT",
		Flags:     []cli.Flag{rawFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 3 {
				return fmt.Errorf("requires exactly three arguments: MINT ACCOUNT AMOUNT")
			}
			mint, err := parseAddress("mint", c.Args().Get(0))
			if err != nil {
				return err
			}
			destination, err := parseAddress("destination", c.Args().Get(1))
			if err != nil {
				return err
			}
			amount, err := parseAmount(c.Args().Get(2), c.Bool("raw"))
			if err != nil {
				return err
			}
			authority, err := loadAuthority(c)
			if err != nil {
				return err
			}

			l, err := newLedger(c)
			if err != nil {
				return err
			}
			sig, err := txn.Submit(c.Context, l, cliLogger(), authority, nil,
				program.NewMintTokensInstruction(amount, mint, destination, authority.PublicKey()).Build(),
			)
			if err != nil {
				return fmt.Errorf("failed to mint tokens: %w", explainError(err))
			}

			return printTransfer(c, "Minted", amount, sig)
		},
	}
}

func transferCommand() *cli.Command {
	return &cli.Command{
		Name:      "transfer",
		Usage:     "Transfer tokens between token accounts (keypair must own FROM)",
		ArgsUsage: "FROM TO AMOUNT",
		Flags:     []cli.Flag{rawFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 3 {
				return fmt.Errorf("requires exactly three arguments: FROM TO AMOUNT")
			}
			from, err := parseAddress("source", c.Args().Get(0))
			if err != nil {
				return err
			}
			to, err := parseAddress("destination", c.Args().Get(1))
			if err != nil {
				return err
			}
			amount, err := parseAmount(c.Args().Get(2), c.Bool("raw"))
			if err != nil {
				return err
			}
			authority, err := loadAuthority(c)
			if err != nil {
				return err
			}

			l, err := newLedger(c)
			if err != nil {
				return err
			}
			sig, err := txn.Submit(c.Context, l, cliLogger(), authority, nil,
				program.NewTransferTokensInstruction(amount, from, to, authority.PublicKey()).Build(),
			)
			if err != nil {
				return fmt.Errorf("failed to transfer tokens: %w", explainError(err))
			}

			return printTransfer(c, "Transferred", amount, sig)
		},
	}
}

func printTransfer(c *cli.Context, verb string, amount uint64, sig solana.Signature) error {
	if c.Bool("json") {
		return printJSON(c.App.Writer, map[string]interface{}{
			"amount":    amount,
			"signature": sig.String(),
		})
	}
	fmt.Fprintf(c.App.Writer, "✓ %s %s WEEK\n", verb, formatAmount(amount))
	fmt.Fprintf(c.App.Writer, "  Signature: %s\n", sig)
	return nil
}

// loadOrCreateKeypair loads path, or generates a key and saves it there
// when the file does not exist. An empty path yields an unsaved key.
func loadOrCreateKeypair(path string) (solana.PrivateKey, error) {
	if path != "" {
		if key, err := txn.LoadKeypair(path); err == nil {
			return key, nil
		}
	}
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	if path != "" {
		if err := txn.SaveKeypair(path, key); err != nil {
			return nil, err
		}
	}
	return key, nil
}

func txCommand() *cli.Command {
	return &cli.Command{
		Name:      "tx",
		Usage:     "Decode the WEEK instructions of a confirmed cluster transaction",
		ArgsUsage: "SIGNATURE",
		Action: func(c *cli.Context) error {
			if isLocalnet(c) {
				return fmt.Errorf("tx reads a cluster: set --network and --rpc-url (use 'events list' on localnet)")
			}
			sig, err := solana.SignatureFromBase58(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid signature %q: %w", c.Args().First(), err)
			}
			rpc, err := newClusterClient(c)
			if err != nil {
				return err
			}
			tx, err := rpc.GetProgramTransaction(c.Context, sig, program.ProgramID)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				out := map[string]interface{}{
					"signature":    tx.Signature,
					"slot":         tx.Slot,
					"fee":          tx.Fee,
					"error":        tx.Err,
					"instructions": describeInstructions(tx.Instructions),
				}
				return printJSON(c.App.Writer, out)
			}

			fmt.Fprintf(c.App.Writer, "Signature: %s\n", tx.Signature)
			fmt.Fprintf(c.App.Writer, "Slot:      %d\n", tx.Slot)
			fmt.Fprintf(c.App.Writer, "Fee:       %d lamports\n", tx.Fee)
			if tx.Err != nil {
				fmt.Fprintf(c.App.Writer, "Error:     %s\n", *tx.Err)
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tINSTRUCTION\tAMOUNT\tMINT\tDESTINATION")
			for _, ix := range tx.Instructions {
				if ix.Err != nil {
					fmt.Fprintf(w, "%d\t%s\t-\t-\t%v\n", ix.Index, ix.Name, ix.Err)
					continue
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", ix.Index, ix.Name, formatAmount(ix.Amount), ix.Mint, ix.Destination)
			}
			return w.Flush()
		},
	}
}

func describeInstructions(ixs []*program.ParsedInstruction) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(ixs))
	for _, ix := range ixs {
		entry := map[string]interface{}{
			"index":       ix.Index,
			"instruction": ix.Name,
		}
		if ix.Err != nil {
			entry["error"] = ix.Err.Error()
		} else {
			entry["amount"] = ix.Amount
			entry["mint"] = ix.Mint.String()
			entry["source"] = ix.Source.String()
			entry["destination"] = ix.Destination.String()
			entry["authority"] = ix.Authority.String()
		}
		out = append(out, entry)
	}
	return out
}
