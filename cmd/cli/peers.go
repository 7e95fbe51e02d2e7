package cli

// -----------------------------------------------------------------------------
// peers.go – peer table inspection
// -----------------------------------------------------------------------------

import (
	"fmt"

	"github.com/spf13/cobra"
)

func peersList(cmd *cobra.Command, _ []string) error {
	var resp struct {
		Count int `json:"count"`
		Peers []struct {
			ID          string  `json:"id"`
			Address     string  `json:"address"`
			LatencyMs   uint32  `json:"latency_ms"`
			Connected   bool    `json:"connected"`
			IsBootstrap bool    `json:"is_bootstrap"`
			Quality     float64 `json:"quality"`
		} `json:"peers"`
	}
	if err := apiDo("GET", "/api/peers", nil, &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d peers\n", resp.Count)
	for _, p := range resp.Peers {
		state := "disconnected"
		if p.Connected {
			state = "connected"
		}
		tag := ""
		if p.IsBootstrap {
			tag = " [bootstrap]"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s  q=%.2f  %dms%s\n",
			p.ID, p.Address, state, p.Quality, p.LatencyMs, tag)
	}
	return nil
}

// RegisterPeers wires the peers command.
func RegisterPeers(root *cobra.Command) {
	root.AddCommand(&cobra.Command{
		Use:   "peers",
		Short: "List known overlay peers",
		RunE:  peersList,
	})
}
