package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/veridex/core/internal/payments/app"
	"github.com/veridex/core/internal/payments/audit"
	"github.com/veridex/core/internal/payments/cliui"
	"github.com/veridex/core/internal/payments/config"
	"github.com/veridex/core/internal/payments/corex"
	"github.com/veridex/core/internal/payments/signer"
	"github.com/veridex/core/internal/payments/store"
	"github.com/veridex/core/internal/payments/store/migrations"
	"github.com/veridex/core/internal/payments/x402"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var userID string

func main() {
	rootCmd := &cobra.Command{
		Use:   "agent",
		Short: "veridex-core - a bounded-authority payment agent for x402-speaking services",
		Long: `agent is the reference CLI for veridex-core's payment core: it creates
scoped Sessions under a local MasterCredential, negotiates HTTP 402 payment
challenges on a caller's behalf within that Session's policy, and mints
short-lived PaymentTokens other local processes can present without ever
touching a private key.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}
	rootCmd.PersistentFlags().StringVar(&userID, "user", "default", "local identity namespace")

	rootCmd.AddCommand(
		newSessionCmd(),
		newPayCmd(),
		newTokenCmd(),
		newAuditCmd(),
		newMigrateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cliui.ErrorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}

func bootstrap(ctx context.Context) (*app.App, error) {
	return app.Bootstrap(ctx, userID)
}

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create, list, and revoke payment Sessions",
	}

	var dailyCap, perTxCap float64
	var expiresIn time.Duration
	var chainIDs []int

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new Session scoped to a spending policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			policy := corex.Policy{
				DailyCapUSD:     corex.FromFloat(dailyCap),
				PerTxCapUSD:     corex.FromFloat(perTxCap),
				ExpiresAt:       time.Now().UTC().Add(expiresIn),
				AllowedChainIDs: chainIDs,
			}

			sess, err := a.Sessions.Create(ctx, a.Identity.CredentialID, a.Identity.MasterKeyHash(), policy)
			if err != nil {
				return err
			}

			fmt.Println(cliui.SuccessStyle.Render("Session created"))
			fmt.Printf("  key_hash:  %s\n", hex.EncodeToString(sess.KeyHash[:]))
			fmt.Printf("  daily cap: %s\n", policy.DailyCapUSD.String())
			fmt.Printf("  per-tx:    %s\n", policy.PerTxCapUSD.String())
			fmt.Printf("  expires:   %s\n", policy.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	createCmd.Flags().Float64Var(&dailyCap, "daily-cap", 50, "daily spending cap, in USD")
	createCmd.Flags().Float64Var(&perTxCap, "per-tx-cap", 10, "per-transaction spending cap, in USD")
	createCmd.Flags().DurationVar(&expiresIn, "expires-in", 24*time.Hour, "session lifetime")
	createCmd.Flags().IntSliceVar(&chainIDs, "chain", nil, "allowed chain ids (repeatable); at least one is required")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List Sessions under the local identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			sessions, err := a.Sessions.SessionsForMaster(ctx, a.Identity.MasterKeyHash())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println(cliui.InfoStyle.Render("no sessions"))
				return nil
			}
			for _, s := range sessions {
				fmt.Printf("%s  spent=%s/%s  tx=%d\n",
					hex.EncodeToString(s.KeyHash[:]),
					s.Ledger.DailySpentUSD.String(), s.Policy.DailyCapUSD.String(), s.Ledger.TxCount)
			}
			return nil
		},
	}

	var revokeHex string
	revokeCmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a Session by its key_hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			keyHash, err := parseKeyHash(revokeHex)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Sessions.Revoke(ctx, keyHash); err != nil {
				return err
			}
			a.Tokens.RevokeAllForSession(keyHash)
			fmt.Println(cliui.SuccessStyle.Render("Session revoked"))
			return nil
		},
	}
	revokeCmd.Flags().StringVar(&revokeHex, "key-hash", "", "hex-encoded session key_hash (required)")
	revokeCmd.MarkFlagRequired("key-hash")

	var exportHex string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export a Session as self-contained JSON for backup or migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			keyHash, err := parseKeyHash(exportHex)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.Store.Get(ctx, keyHash)
			if err != nil {
				return err
			}

			encoded, err := json.MarshalIndent(store.ToWire(sess), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(encoded))
			return nil
		},
	}
	exportCmd.Flags().StringVar(&exportHex, "key-hash", "", "hex-encoded session key_hash (required)")
	exportCmd.MarkFlagRequired("key-hash")

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a Session previously produced by `session export`",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var wire corex.SessionWire
			if err := json.Unmarshal(raw, &wire); err != nil {
				return fmt.Errorf("parse session export: %w", err)
			}

			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := store.FromWire(ctx, wire, a.Vault, a.Identity.CredentialID)
			if err != nil {
				return err
			}
			if err := a.Store.Put(ctx, sess); err != nil {
				return err
			}

			fmt.Println(cliui.SuccessStyle.Render("Session imported"))
			fmt.Printf("  key_hash: %s\n", hex.EncodeToString(sess.KeyHash[:]))
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd, revokeCmd, exportCmd, importCmd)
	return cmd
}

func newPayCmd() *cobra.Command {
	var sessionHex string
	var direct bool
	var payTo string
	var amount string
	var asset string
	var chainID int
	cmd := &cobra.Command{
		Use:   "pay <url>",
		Short: "Fetch url, paying any HTTP 402 challenge within the Session's policy",
		Long: `pay fetches url and settles any HTTP 402 challenge it receives within the
Session's policy. With --direct, url is ignored and a payment is instead
signed straight to --to for --amount of --asset on --chain, with no HTTP
negotiation — for callers that already know the recipient and amount out
of band (e.g. paying a facilitator that was discovered some other way).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keyHash, err := parseKeyHash(sessionHex)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.Sessions.Load(ctx, keyHash)
			if err != nil {
				return err
			}

			if direct {
				return runDirectPay(ctx, a, sess, payTo, amount, asset, chainID)
			}
			if len(args) != 1 {
				return fmt.Errorf("pay requires a <url> argument unless --direct is set")
			}

			result, runErr := cliui.RunWithSpinner(fmt.Sprintf("negotiating payment for %s", args[0]), func() cliui.RunResult {
				outcome, err := a.Engine.HandleFetch(ctx, paymentRequest(args[0]), sess)
				if err != nil {
					return cliui.RunResult{Err: err}
				}

				if updated, loadErr := a.Sessions.Load(ctx, sess.KeyHash); loadErr == nil {
					a.AlertBus.OnSpending(updated.KeyHash, updated.Ledger.DailySpentUSD, updated.Policy.DailyCapUSD)
				}

				return cliui.RunResult{Summary: fmt.Sprintf("state=%s status=%d", outcome.State, outcome.Response.StatusCode)}
			})
			if runErr != nil {
				return runErr
			}
			if result.Err != nil {
				return result.Err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionHex, "session", "", "hex-encoded session key_hash (required)")
	cmd.MarkFlagRequired("session")
	cmd.Flags().BoolVar(&direct, "direct", false, "sign a payment directly instead of negotiating an HTTP 402 challenge")
	cmd.Flags().StringVar(&payTo, "to", "", "recipient address (--direct only)")
	cmd.Flags().StringVar(&amount, "amount", "", "amount to pay, as whole tokens (e.g. \"1.50\") or smallest-unit integer (--direct only)")
	cmd.Flags().StringVar(&asset, "asset", "USDC", "asset symbol or contract address (--direct only)")
	cmd.Flags().IntVar(&chainID, "chain", 8453, "chain id (--direct only)")
	return cmd
}

// runDirectPay resolves the requested asset's token metadata, interprets
// amount under InterpretAmount's whole-vs-smallest-unit heuristic, and
// drives the payment straight through Engine.Pay with no HTTP round trip.
func runDirectPay(ctx context.Context, a *app.App, sess corex.Session, payTo, amount, asset string, chainID int) error {
	if payTo == "" {
		return fmt.Errorf("--to is required with --direct")
	}
	if amount == "" {
		return fmt.Errorf("--amount is required with --direct")
	}

	verifyingContract, _ := signer.ResolveTokenAddress(asset, chainID)
	_, _, decimals := signer.ResolveTokenMeta(verifyingContract)

	smallestUnit, err := signer.InterpretAmount(amount, decimals)
	if err != nil {
		return fmt.Errorf("interpret amount %q: %w", amount, err)
	}

	req := corex.PaymentRequest{
		Scheme:             corex.SchemeExact,
		ChainID:            chainID,
		Asset:              asset,
		PayTo:              payTo,
		AmountSmallestUnit: smallestUnit,
		SchemeVersion:      1,
	}

	result, runErr := cliui.RunWithSpinner(fmt.Sprintf("signing direct payment of %s %s to %s", amount, asset, payTo), func() cliui.RunResult {
		res, err := a.Engine.Pay(ctx, req, sess)
		if err != nil {
			return cliui.RunResult{Err: err}
		}
		if updated, loadErr := a.Sessions.Load(ctx, sess.KeyHash); loadErr == nil {
			a.AlertBus.OnSpending(updated.KeyHash, updated.Ledger.DailySpentUSD, updated.Policy.DailyCapUSD)
		}
		return cliui.RunResult{Summary: fmt.Sprintf("signed payload=%s", res.PayloadB64)}
	})
	if runErr != nil {
		return runErr
	}
	return result.Err
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint and validate short-lived PaymentTokens",
	}

	var sessionHex string
	var ttl time.Duration
	mintCmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a PaymentToken bound to a Session",
		RunE: func(cmd *cobra.Command, args []string) error {
			keyHash, err := parseKeyHash(sessionHex)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.Sessions.Load(ctx, keyHash)
			if err != nil {
				return err
			}
			tok, err := a.Tokens.Mint(sess, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok.TokenString)
			return nil
		},
	}
	mintCmd.Flags().StringVar(&sessionHex, "session", "", "hex-encoded session key_hash (required)")
	mintCmd.MarkFlagRequired("session")
	mintCmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to token.DefaultTTL)")

	validateCmd := &cobra.Command{
		Use:   "validate <token>",
		Short: "Validate a PaymentToken",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			_, reason, ok := a.Tokens.Validate(args[0])
			if !ok {
				return fmt.Errorf("token invalid: %s", reason)
			}
			fmt.Println(cliui.SuccessStyle.Render("token valid"))
			return nil
		},
	}

	cmd.AddCommand(mintCmd, validateCmd)
	return cmd
}

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the append-only payment audit log",
	}

	var chainID int
	var limit, offset int
	var asCSV, asJSON bool
	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Query audit records",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			filter := audit.Filter{Limit: limit, Offset: offset}
			if chainID != 0 {
				filter.ChainID = &chainID
			}

			records, err := a.AuditLog.Query(cmd.Context(), filter)
			if err != nil {
				return err
			}

			switch {
			case asCSV:
				return audit.WriteCSV(os.Stdout, records)
			case asJSON:
				return audit.WriteJSON(os.Stdout, records)
			default:
				for _, r := range records {
					fmt.Printf("%s  %s  %s  %s\n", r.Timestamp.Format(time.RFC3339), r.ID, r.AmountUSD.String(), r.Status)
				}
				return nil
			}
		},
	}
	queryCmd.Flags().IntVar(&chainID, "chain", 0, "filter by chain id")
	queryCmd.Flags().IntVar(&limit, "limit", audit.DefaultLimit, "max records")
	queryCmd.Flags().IntVar(&offset, "offset", audit.DefaultOffset, "pagination offset")
	queryCmd.Flags().BoolVar(&asCSV, "csv", false, "export as CSV")
	queryCmd.Flags().BoolVar(&asJSON, "json", false, "export as JSON")

	cmd.AddCommand(queryCmd)
	return cmd
}

func paymentRequest(url string) x402.Request {
	return x402.Request{Method: "GET", URL: url}
}

// newMigrateCmd applies the store's goose migrations against Postgres.
// It dials through database/sql via lib/pq rather than the pgx/v5/stdlib
// adapter the test suite uses, since goose only needs a generic
// database/sql.DB and this is the one place in the module a second,
// independently-maintained driver is worth carrying: an operator who
// cannot load the cgo-free pgx driver for some reason still has a path
// to apply migrations.
func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
				cfg.Database.User, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name, cfg.Database.SSLMode)

			sqlDB, err := goose.OpenDBWithDriver("postgres", dsn)
			if err != nil {
				return fmt.Errorf("migrate: open database: %w", err)
			}
			defer sqlDB.Close()

			goose.SetBaseFS(migrations.FS())
			defer goose.SetBaseFS(nil)

			if err := goose.Up(sqlDB, "."); err != nil {
				return fmt.Errorf("migrate: apply migrations: %w", err)
			}
			fmt.Println(cliui.SuccessStyle.Render("migrations applied"))
			return nil
		},
	}
	return cmd
}

func parseKeyHash(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("malformed key_hash %q: %w", s, err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("key_hash must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
