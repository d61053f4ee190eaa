package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/rent-ledger/contract"
	"github.com/warp/rent-ledger/factory"
	"github.com/warp/rent-ledger/ledger"
)

// ─── statement ──────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(statementCmd)
	rootCmd.AddCommand(accrueCmd)
	rootCmd.AddCommand(resetCmd)

	statementCmd.Flags().String("cutoff", "", "Include entries accrued on or before YYYY-MM-DD")
	statementCmd.Flags().Bool("pending-only", false, "Hide fully resolved movements")
	accrueCmd.Flags().StringP("file", "f", "", "Contract JSON definition (- for stdin)")
	_ = accrueCmd.MarkFlagRequired("file")
	resetCmd.Flags().Bool("yes", false, "Confirm deleting every entry and cash account")
}

var statementCmd = &cobra.Command{
	Use:   "statement COUNTERPARTY",
	Short: "Print a counterparty statement as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatement,
}

func runStatement(cmd *cobra.Command, args []string) error {
	q := ledger.StatementQuery{CounterpartyID: ledger.CounterpartyID(args[0])}
	if raw, _ := cmd.Flags().GetString("cutoff"); raw != "" {
		cutoff, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return fmt.Errorf("--cutoff: expected YYYY-MM-DD, got %q", raw)
		}
		q.Cutoff = &cutoff
	}
	q.PendingOnly, _ = cmd.Flags().GetBool("pending-only")

	rt, err := openRuntime("statement")
	if err != nil {
		return err
	}
	defer rt.Close()

	st, err := rt.engine.GetStatement(cmd.Context(), q)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), st)
}

// ─── accrue ─────────────────────────────────────────────────────────────────

var accrueCmd = &cobra.Command{
	Use:   "accrue",
	Short: "Generate every entry a contract bills",
	Long: `Reads a contract definition and creates its monthly rent entries and the
deposit entry. Entries that already exist are skipped, so running the same
contract twice is safe.`,
	RunE: runAccrue,
}

func runAccrue(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("file")
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read contract: %w", err)
	}

	c, err := factory.NewContractFactory().ParseContract(string(data))
	if err != nil {
		return err
	}

	rt, err := openRuntime("accrue")
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := contract.Accrue(cmd.Context(), rt.engine, *c)
	if err != nil {
		return err
	}
	rt.log.Info().Str("contract", string(c.ID)).Int("created", len(res.Created)).Int("skipped", len(res.Skipped)).Msg("contract accrued")
	return printJSON(cmd.OutOrStdout(), res)
}

// ─── reset ──────────────────────────────────────────────────────────────────

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every entry and cash account, then reopen configured accounts",
	RunE:  runReset,
}

func runReset(cmd *cobra.Command, _ []string) error {
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		return fmt.Errorf("refusing to reset without --yes")
	}

	rt, err := openRuntime("reset")
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()
	if err := rt.engine.Reset(ctx); err != nil {
		return err
	}
	for _, acc := range rt.cashAccounts() {
		if err := rt.engine.OpenCashAccount(ctx, acc.ID, acc.Name); err != nil {
			return err
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ledger reset")
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
