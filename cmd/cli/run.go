package cli

// -----------------------------------------------------------------------------
// run.go – node daemon lifecycle
// -----------------------------------------------------------------------------
// Commands after RegisterRun(root):
//   ~run            – start the node and control plane, block until signal
// -----------------------------------------------------------------------------

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nonos-network/nonosd/core"
	"github.com/nonos-network/nonosd/pkg/config"
)

var (
	runNode *core.Node
	runMu   sync.RWMutex
)

func runInit(cmd *cobra.Command, _ []string) error {
	runMu.RLock()
	existing := runNode
	runMu.RUnlock()
	if existing != nil {
		return nil
	}
	_ = godotenv.Load()

	if _, err := config.LoadFromEnv(); err != nil {
		logrus.Warnf("config load: %v (using defaults)", err)
	}
	if lvl := viper.GetString("logging.level"); lvl != "" {
		parsed, err := logrus.ParseLevel(lvl)
		if err != nil {
			return err
		}
		logrus.SetLevel(parsed)
	}

	dataDir := viper.GetString("node.data_dir")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = home + "/.nonos"
	}

	cfg := core.DefaultNodeConfig(dataDir)
	if v := viper.GetString("network.listen_addr"); v != "" {
		cfg.ListenAddr = v
	}
	if v := viper.GetStringSlice("network.bootstrap_peers"); len(v) > 0 {
		cfg.BootstrapPeers = v
	}
	if v := viper.GetString("network.discovery_tag"); v != "" {
		cfg.DiscoveryTag = v
	}
	if v := viper.GetString("api.bind"); v != "" {
		cfg.APIBind = v
	}
	cfg.APIAuthRequired = viper.GetBool("api.auth_required")
	cfg.APIToken = viper.GetString("api.token")
	cfg.SocksProxy = viper.GetString("ledger.socks_proxy")
	cfg.RPCEndpoints = viper.GetStringSlice("ledger.rpc_endpoints")
	if v := viper.GetUint64("ledger.chain_id"); v != 0 {
		cfg.ChainID = v
	}
	cfg.OracleContract = viper.GetString("ledger.oracle_contract")
	cfg.Production = viper.GetBool("node.production")

	masterKey, err := loadMasterKey(dataDir)
	if err != nil {
		return err
	}
	defer core.Zeroize(masterKey[:])

	n, err := core.NewNode(cfg, &masterKey)
	if err != nil {
		return err
	}
	runMu.Lock()
	runNode = n
	runMu.Unlock()
	return nil
}

func runStart(cmd *cobra.Command, _ []string) error {
	runMu.RLock()
	n := runNode
	runMu.RUnlock()
	if n == nil {
		return fmt.Errorf("not initialised")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(ctx); err != nil {
		return err
	}
	api := core.NewAPIServer(n)
	go func() {
		if err := api.Start(); err != nil {
			logrus.Errorf("control plane: %v", err)
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "node started: %s\n", n.StatusString())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logrus.Info("shutting down")
	_ = api.Close()
	cancel()

	done := make(chan error, 1)
	go func() { done <- n.Stop() }()
	select {
	case err := <-done:
		return err
	case <-time.After(30 * time.Second):
		return fmt.Errorf("shutdown timed out")
	}
}

// RegisterRun wires the run command.
func RegisterRun(root *cobra.Command) {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run the NONOS node daemon",
		PreRunE: runInit,
		RunE:    runStart,
	}
	root.AddCommand(cmd)
}
