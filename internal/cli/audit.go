package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/indicompute/indicompute/internal/domain"
)

func init() {
	rootCmd.AddCommand(auditCmd)
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check every wallet balance against its transaction history",
	RunE:  runAudit,
}

func runAudit(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	audits, verr := d.Wallet.VerifyAll(cmd.Context())
	if verr != nil && !errors.Is(verr, domain.ErrConsistency) {
		return verr
	}

	if len(audits) == 0 {
		fmt.Fprintln(out, "No accounts yet.")
		return nil
	}

	rows := make([][]string, 0, len(audits))
	for _, a := range audits {
		state := "ok"
		if !a.Consistent() {
			state = "MISMATCH"
		}
		rows = append(rows, []string{
			strconv.FormatInt(a.OwnerID, 10),
			a.Balance.String(),
			a.LedgerSum.String(),
			strconv.FormatInt(a.Transactions, 10),
			state,
		})
	}
	renderTable([]string{"User", "Balance", "Ledger Sum", "Entries", "State"}, rows)

	return verr
}
