package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(analyticsCmd)
	analyticsCmd.Flags().String("from", "", "Start date, YYYY-MM-DD (inclusive)")
	analyticsCmd.Flags().String("to", "", "End date, YYYY-MM-DD (exclusive)")
	analyticsCmd.MarkFlagRequired("from")
	analyticsCmd.MarkFlagRequired("to")
}

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Print ledger totals by month and kind",
	Args:  cobra.NoArgs,
	RunE:  runAnalytics,
}

func runAnalytics(cmd *cobra.Command, args []string) error {
	fromRaw, _ := cmd.Flags().GetString("from")
	toRaw, _ := cmd.Flags().GetString("to")

	from, err := time.Parse(time.DateOnly, fromRaw)
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	to, err := time.Parse(time.DateOnly, toRaw)
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Dashboards.Analytics(cmd.Context(), from, to)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
