package cli

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateFrom string
	simulateTo   string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Render and send a rate-change alert for a hypothetical move",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateFrom == "" || simulateTo == "" {
			return errors.New("--from and --to must be provided")
		}

		from, err := decimal.NewFromString(simulateFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}
		to, err := decimal.NewFromString(simulateTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}

		return getApp().SimulateAlert(cmd.Context(), from, to)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateFrom, "from", "", "Previous rate in percent, e.g. 5.33")
	simulateCmd.Flags().StringVar(&simulateTo, "to", "", "New rate in percent, e.g. 5.08")
}
