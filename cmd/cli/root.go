package cli

// Root command wiring. Each concern registers its own subtree via a
// RegisterX(root) helper.

import (
	"github.com/spf13/cobra"
)

// NewRootCommand assembles the nonosd command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "nonosd",
		Short: "NONOS privacy-infrastructure node",
		Long:  "nonosd runs a NONOS node: anonymous routing, zero-knowledge identity attestation, confidential asset mixing and reward-bearing work reporting.",
	}
	RegisterRun(root)
	RegisterInit(root)
	RegisterMixer(root)
	RegisterPeers(root)
	RegisterRewards(root)
	RegisterStake(root)
	RegisterWork(root)
	return root
}
