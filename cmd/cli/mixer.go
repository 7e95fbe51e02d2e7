package cli

// -----------------------------------------------------------------------------
// mixer.go – mixer inspection commands
// -----------------------------------------------------------------------------
// Commands after RegisterMixer(root):
//   ~mixer ~stats    – pool counters
// -----------------------------------------------------------------------------

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func mixerStats(cmd *cobra.Command, _ []string) error {
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := apiDo("GET", "/api/work/metrics", nil, &resp); err != nil {
		return err
	}
	var metrics struct {
		MixerOps struct {
			Deposits        uint64 `json:"deposits_processed"`
			Spends          uint64 `json:"spends_processed"`
			TotalValueMixed string `json:"total_value_mixed"`
			Participations  uint64 `json:"pool_participations"`
		} `json:"mixer_ops"`
	}
	if err := json.Unmarshal(resp.Data, &metrics); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deposits:       %d\n", metrics.MixerOps.Deposits)
	fmt.Fprintf(cmd.OutOrStdout(), "spends:         %d\n", metrics.MixerOps.Spends)
	fmt.Fprintf(cmd.OutOrStdout(), "value mixed:    %s\n", metrics.MixerOps.TotalValueMixed)
	fmt.Fprintf(cmd.OutOrStdout(), "participations: %d\n", metrics.MixerOps.Participations)
	return nil
}

// RegisterMixer wires the mixer command subtree.
func RegisterMixer(root *cobra.Command) {
	mixer := &cobra.Command{Use: "mixer", Short: "Inspect the note mixer"}
	mixer.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show mixer pool counters",
		RunE:  mixerStats,
	})
	root.AddCommand(mixer)
}
