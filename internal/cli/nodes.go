package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	nodesCmd.Flags().BoolVar(&nodesOnline, "online", false, "Only show nodes with a recent heartbeat")
	rootCmd.AddCommand(nodesCmd)
}

var nodesOnline bool

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List marketplace nodes",
	RunE:  runNodes,
}

func runNodes(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	listings, err := d.Registry.Marketplace(cmd.Context(), nodesOnline)
	if err != nil {
		return err
	}
	if len(listings) == 0 {
		fmt.Fprintln(out, "No nodes registered.")
		return nil
	}

	rows := make([][]string, 0, len(listings))
	for _, l := range listings {
		price := "default"
		if l.PricePerHour != nil {
			price = l.PricePerHour.String() + " " + l.Currency
		}
		status := "offline"
		if l.Online {
			status = "online"
		}
		rows = append(rows, []string{
			strconv.FormatInt(l.ID, 10),
			strconv.FormatInt(l.OwnerID, 10),
			l.Location,
			fmt.Sprintf("%dx %s", l.GPUCount, l.GPUModel),
			price,
			status,
			formatTimePtr(l.LastActive),
		})
	}
	renderTable([]string{"ID", "Owner", "Location", "GPU", "Price/h", "Status", "Last Active"}, rows)
	return nil
}
