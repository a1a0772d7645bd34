package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	walletCmd.Flags().Int64Var(&walletUser, "user", 0, "Wallet owner")
	walletCmd.Flags().IntVar(&walletLimit, "limit", 20, "Number of transactions to show")
	_ = walletCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(walletCmd)
}

var (
	walletUser  int64
	walletLimit int
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Show a wallet balance and its recent transactions",
	RunE:  runWallet,
}

func runWallet(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	acct, err := d.Wallet.Balance(cmd.Context(), walletUser)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Balance: %s %s\n\n", acct.Balance, acct.Currency)

	txs, err := d.Wallet.Transactions(cmd.Context(), walletUser, walletLimit)
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		fmt.Fprintln(out, "No transactions.")
		return nil
	}

	rows := make([][]string, 0, len(txs))
	for _, tx := range txs {
		rows = append(rows, []string{
			formatTime(tx.Timestamp),
			string(tx.Kind),
			tx.Amount.String(),
			tx.BalanceAfter.String(),
			tx.Description,
		})
	}
	renderTable([]string{"Time", "Type", "Amount", "Balance After", "Description"}, rows)
	return nil
}
