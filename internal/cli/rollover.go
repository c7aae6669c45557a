package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cabofitpass/backend/internal/models"
)

func init() {
	rootCmd.AddCommand(rolloverCmd)
	rolloverCmd.Flags().String("user", "", "Roll over a single user instead of every account")
}

var rolloverCmd = &cobra.Command{
	Use:   "rollover",
	Short: "Close the credit period",
	Long: `Expire credits above each account's rollover cap and grant the monthly
allotment. Accounts already rolled over this period are skipped, so the
command is safe to run more than once.`,
	Args: cobra.NoArgs,
	RunE: runRollover,
}

func runRollover(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.Rollovers.ProcessRollover(cmd.Context(), userID)
	printRolloverResults(cmd.OutOrStdout(), results)
	if err != nil {
		return fmt.Errorf("rollover finished with failures: %w", err)
	}
	return nil
}

func printRolloverResults(out io.Writer, results []models.RolloverResult) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tBEFORE\tEXPIRED\tGRANTED\tAFTER\tSTATUS")
	for _, r := range results {
		status := "processed"
		if r.Skipped {
			status = "skipped"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n", r.UserID, r.PreviousBalance, r.Expired, r.Granted, r.NewBalance, status)
	}
	tw.Flush()
}
