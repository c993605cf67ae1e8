package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/winloss-engine/generic"
	"github.com/warp/winloss-engine/reconcile"
)

func init() {
	rootCmd.AddCommand(rebateCmd)
	rebateCmd.AddCommand(rebateRunCmd)
	rootCmd.AddCommand(reconcileCmd)

	rebateRunCmd.Flags().String("day", "", "Business date YYYY-MM-DD (default: yesterday)")
	reconcileCmd.Flags().String("day", "", "Business date YYYY-MM-DD (default: yesterday and today)")
}

var rebateCmd = &cobra.Command{
	Use:   "rebate",
	Short: "Rebate operations",
}

// ─── rebate run ─────────────────────────────────────────────────────────────

var rebateRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Create the missing rebates of one business day",
	Long: `Create a rebate for every ledger entry of the day with a positive net loss.
Rebates that already exist are skipped, so the command is safe to repeat.`,
	Args: cobra.NoArgs,
	RunE: runRebateRun,
}

func runRebateRun(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.Close()

	day, err := dayFlag(cmd, a.calendar)
	if err != nil {
		return err
	}
	if day.IsZero() {
		day = a.calendar.Previous(time.Now())
	}

	res, err := a.handler.Rebates.RunForDay(cmd.Context(), day, generic.TriggerCLI)
	if res != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "day=%s run=%s created=%d skipped=%d ineligible=%d\n",
			a.calendar.FormatDay(day), res.RunID, res.Created, res.Skipped, res.Ineligible)
		for _, tx := range res.Rebates {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s  %s\n", tx.Reference, tx.Amount.StringFixed(generic.MoneyScale), tx.Status)
		}
	}
	return err
}

// ─── reconcile ──────────────────────────────────────────────────────────────

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Rebuild ledger entries from approved transfers",
	Args:  cobra.NoArgs,
	RunE:  runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.Close()

	day, err := dayFlag(cmd, a.calendar)
	if err != nil {
		return err
	}

	rec := a.handler.Reconciler
	var summary *reconcile.Summary
	if day.IsZero() {
		summary, err = rec.Run(cmd.Context(), time.Now())
	} else {
		summary, err = rec.RunDay(cmd.Context(), day)
	}
	if summary != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "precedence=%s groups=%d overwritten=%d preserved=%d unchanged=%d\n",
			rec.Precedence(), summary.Groups, summary.Overwritten, summary.Preserved, summary.Unchanged)
	}
	return err
}

// dayFlag parses --day; zero when unset.
func dayFlag(cmd *cobra.Command, cal *generic.BusinessCalendar) (time.Time, error) {
	s, _ := cmd.Flags().GetString("day")
	if s == "" {
		return time.Time{}, nil
	}
	return cal.ParseDay(s)
}
