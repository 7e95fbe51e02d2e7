package cli

// -----------------------------------------------------------------------------
// work.go – work metrics and epoch inspection
// -----------------------------------------------------------------------------

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func workMetrics(cmd *cobra.Command, _ []string) error {
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := apiDo("GET", "/api/work/metrics", nil, &resp); err != nil {
		return err
	}
	pretty, err := json.MarshalIndent(resp.Data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(pretty))
	return nil
}

func workEpoch(cmd *cobra.Command, _ []string) error {
	var resp struct {
		Success    bool   `json:"success"`
		Epoch      uint64 `json:"epoch"`
		EpochStart uint64 `json:"epoch_start"`
		EpochEnd   uint64 `json:"epoch_end"`
		Submitted  bool   `json:"submitted"`
	}
	if err := apiDo("GET", "/api/work/epoch", nil, &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "epoch:     %d\n", resp.Epoch)
	fmt.Fprintf(cmd.OutOrStdout(), "start:     %s\n", time.Unix(int64(resp.EpochStart), 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(cmd.OutOrStdout(), "end:       %s\n", time.Unix(int64(resp.EpochEnd), 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(cmd.OutOrStdout(), "submitted: %v\n", resp.Submitted)
	return nil
}

// RegisterWork wires the work command subtree.
func RegisterWork(root *cobra.Command) {
	work := &cobra.Command{Use: "work", Short: "Work accounting"}
	work.AddCommand(&cobra.Command{
		Use:   "metrics",
		Short: "Show the full work metrics snapshot",
		RunE:  workMetrics,
	})
	work.AddCommand(&cobra.Command{
		Use:   "epoch",
		Short: "Show the current epoch state",
		RunE:  workEpoch,
	})
	root.AddCommand(work)
}
