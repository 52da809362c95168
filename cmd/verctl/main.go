package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/veracite/veracite/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "verctl",
	Short: "Veracite verification ledger CLI",
	Long: `verctl is the command-line interface for a veracite server.

It submits items for classification, browses the tamper-evident
verification ledger, and checks chain integrity.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.verctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8084"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.verctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "veracite server URL (default http://localhost:8084)")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(verifyChainCmd)
	rootCmd.AddCommand(versionCmd)
}

func apiClient() *client.Client {
	return client.New(serverURL)
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// ── check ────────────────────────────────────────────────────────────────────

var (
	checkSourceURL string
	checkFormat    string
)

var checkCmd = &cobra.Command{
	Use:   "check <text...>",
	Short: "Submit an item for classification",
	Long: `Check submits text for classification. The result is committed to the
ledger only when the server's detectors reach agreement:

  verctl check "Scientists publish peer-reviewed study on ocean currents"
  verctl check --source-url https://www.reuters.com/article "Central bank holds rates"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkSourceURL, "source-url", "", "Source URL of the item, if known")
	checkCmd.Flags().StringVar(&checkFormat, "format", "text", "Output format: text or json")
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	text := strings.Join(args, " ")
	res, err := apiClient().Check(ctx, text, checkSourceURL)
	if err != nil {
		return err
	}

	if checkFormat == "json" {
		return printJSON(res)
	}

	if !res.Conclusive {
		fmt.Printf("REJECTED (%s)\n", res.Reason)
		fmt.Printf("  corrections: %d\n", res.Corrections)
		if res.Message != "" {
			fmt.Printf("  %s\n", res.Message)
		}
		return nil
	}

	fmt.Printf("%s (confidence %s, %d corrections)\n", res.Result, res.Confidence, res.Corrections)
	if res.Blockchain.Saved {
		fmt.Printf("  sequence:  %d\n", res.Blockchain.SequenceNumber)
		fmt.Printf("  tx hash:   %s\n", res.Blockchain.TransactionHash)
		fmt.Printf("  digest:    %s\n", res.Blockchain.ContentDigest)
	}
	if res.Receipt != "" {
		fmt.Printf("  receipt:   %s\n", res.Receipt)
	}
	return nil
}

// ── history ──────────────────────────────────────────────────────────────────

var historyFormat string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List all ledger records in chain order",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyFormat, "format", "text", "Output format: text or json")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	records, err := apiClient().History(ctx)
	if err != nil {
		return err
	}

	if historyFormat == "json" {
		return printJSON(records)
	}
	if len(records) == 0 {
		fmt.Println("ledger is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tLABEL\tHASH\tTIMESTAMP\tPREVIEW")
	for _, rec := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			rec.SequenceNumber, rec.Label, shortHash(rec.EntryHash), rec.Timestamp, clip(rec.ContentPreview, 48))
	}
	return w.Flush()
}

// ── stats ────────────────────────────────────────────────────────────────────

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show classification counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		stats, err := apiClient().Stats(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "total\t%d\n", stats.Total)
		fmt.Fprintf(w, "real\t%d\n", stats.Real)
		fmt.Fprintf(w, "fake\t%d\n", stats.Fake)
		return w.Flush()
	},
}

// ── record ───────────────────────────────────────────────────────────────────

var recordCmd = &cobra.Command{
	Use:   "record <entry-hash>",
	Short: "Look up and verify a single ledger record by its entry hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		res, err := apiClient().VerifyRecord(ctx, args[0])
		if errors.Is(err, client.ErrNotFound) {
			return fmt.Errorf("no record with entry hash %s", args[0])
		}
		if err != nil {
			return err
		}

		status := "VERIFIED"
		if !res.Verified {
			status = "TAMPERED"
		}
		fmt.Printf("%s: %s\n", status, res.Message)
		return printJSON(res.Record)
	},
}

// ── verify-chain ─────────────────────────────────────────────────────────────

var verifyChainCmd = &cobra.Command{
	Use:   "verify-chain",
	Short: "Verify the integrity of the whole ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		c := apiClient()
		overview, err := c.Overview(ctx)
		if err != nil {
			return err
		}
		res, err := c.VerifyChain(ctx)
		if err != nil {
			return err
		}

		if !res.Valid {
			fmt.Printf("INVALID: chain broken at sequence %d (%d records, root %s)\n",
				res.FirstBreak, overview.Entries, shortHash(overview.Root))
			os.Exit(1)
		}
		fmt.Printf("VALID: %d records, root %s\n", overview.Entries, shortHash(overview.Root))
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the verctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("verctl %s\n", version)
	},
}

// ── helpers ──────────────────────────────────────────────────────────────────

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16] + "…"
	}
	return h
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
