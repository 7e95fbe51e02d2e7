package cli

// -----------------------------------------------------------------------------
// init.go – data directory and master key setup
// -----------------------------------------------------------------------------

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nonos-network/nonosd/core"
)

const masterKeyFile = "master.key"

// loadMasterKey reads the master key, deriving it from NONOS_MASTER_PASSWORD
// when the key file does not exist yet.
func loadMasterKey(dataDir string) ([32]byte, error) {
	var key [32]byte
	path := filepath.Join(dataDir, masterKeyFile)

	if raw, err := os.ReadFile(path); err == nil {
		decoded, err := hex.DecodeString(string(raw))
		if err != nil || len(decoded) != 32 {
			return key, fmt.Errorf("corrupt master key file %s", path)
		}
		copy(key[:], decoded)
		core.Zeroize(decoded)
		return key, nil
	}

	password := os.Getenv("NONOS_MASTER_PASSWORD")
	if password == "" {
		return key, fmt.Errorf("no master key at %s and NONOS_MASTER_PASSWORD unset; run 'nonosd init'", path)
	}
	key = core.DeriveKeyFromPassword([]byte(password), []byte("nonos-master"), 4096)
	return key, nil
}

func initRun(cmd *cobra.Command, _ []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".nonos")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return err
	}

	path := filepath.Join(dataDir, masterKeyFile)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("master key already exists at %s", path)
	}

	key := core.Random32()
	defer core.Zeroize(key[:])
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key[:])), 0o600); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "initialised data directory %s\n", dataDir)
	return nil
}

// RegisterInit wires the init command.
func RegisterInit(root *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialise the data directory and master key",
		RunE:  initRun,
	}
	cmd.Flags().String("data-dir", "", "data directory (default ~/.nonos)")
	root.AddCommand(cmd)
}
