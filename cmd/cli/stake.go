package cli

// -----------------------------------------------------------------------------
// stake.go – staking operations
// -----------------------------------------------------------------------------

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func stakeRun(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q", args[0])
	}
	var resp struct {
		Success bool    `json:"success"`
		TxHash  string  `json:"tx_hash"`
		Amount  float64 `json:"amount"`
	}
	if err := apiDo("POST", "/api/staking/stake", map[string]interface{}{"amount": amount}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("stake rejected")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "staked %.4f NOX: tx=%s\n", resp.Amount, resp.TxHash)
	return nil
}

// RegisterStake wires the stake command.
func RegisterStake(root *cobra.Command) {
	root.AddCommand(&cobra.Command{
		Use:   "stake <amount>",
		Short: "Stake NOX with the staking contract",
		Args:  cobra.ExactArgs(1),
		RunE:  stakeRun,
	})
}
