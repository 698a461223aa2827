package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rawblock/veilwallet/internal/consensus"
	"github.com/rawblock/veilwallet/internal/daemon"
	"github.com/rawblock/veilwallet/internal/db"
	"github.com/rawblock/veilwallet/internal/keys"
	"github.com/rawblock/veilwallet/internal/wallet"
	"github.com/rawblock/veilwallet/pkg/models"
)

// Exit codes: 0 success, 2 runtime error, 130 interrupted. Execute does not
// tell CLI misuse apart from other failures: argument and flag errors also
// exit with ExitRuntime, and ExitUsage is not returned.
const (
	ExitOK          = 0
	ExitUsage       = 1
	ExitRuntime     = 2
	ExitInterrupted = 130
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "veilwallet",
	Short: "Wallet engine for the chain's stealth-address accounts",
	Long: `veilwallet holds keys, scans the chain for owned outputs, builds and
signs confidential spend transactions, and drives a proof-of-work hasher
against node-provided block templates.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, cancel := signalContext()
	defer cancel()
	rootCmd.SetContext(ctx)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if ctx.Err() != nil {
			return ExitInterrupted
		}
		if models.IsKind(err, models.ErrCancelled) {
			return ExitInterrupted
		}
		return ExitRuntime
	}
	return ExitOK
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		log.Println("[CLI] Interrupt received, shutting down")
		cancel()
	}()
	return ctx, cancel
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.veilwallet.yaml)")
	rootCmd.PersistentFlags().String("daemon", "", "daemon base URL (default derives from network)")
	rootCmd.PersistentFlags().String("network", "main", "network: main, test or stage")
	rootCmd.PersistentFlags().String("data-dir", "", "wallet database directory (empty = in-memory)")

	_ = viper.BindPFlag("daemon", rootCmd.PersistentFlags().Lookup("daemon"))
	_ = viper.BindPFlag("network", rootCmd.PersistentFlags().Lookup("network"))
	_ = viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".veilwallet")
	}

	viper.SetEnvPrefix("VEILWALLET")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// getEnvOrDefault returns the env var value or a safe default for
// non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func network() (models.Network, error) {
	switch viper.GetString("network") {
	case "main", "":
		return models.Mainnet, nil
	case "test":
		return models.Testnet, nil
	case "stage":
		return models.Stagenet, nil
	default:
		return 0, fmt.Errorf("unknown network %q", viper.GetString("network"))
	}
}

func daemonURL(net models.Network) string {
	if url := viper.GetString("daemon"); url != "" {
		return url
	}
	return fmt.Sprintf("http://127.0.0.1:%d", consensus.Ports(net).JSONRPC)
}

// openWallet assembles the wallet from config: seed from the
// VEILWALLET_SEED_MNEMONIC env (or generated fresh), storage from data_dir.
func openWallet(sink models.EventSink) (*wallet.Wallet, db.Store, error) {
	net, err := network()
	if err != nil {
		return nil, nil, err
	}

	var store db.Store
	if dir := viper.GetString("data_dir"); dir != "" {
		b, err := db.OpenBadger(dir)
		if err != nil {
			return nil, nil, err
		}
		store = b
	} else {
		log.Println("[CLI] No data dir configured; using in-memory storage")
		store = db.NewMemoryStore()
	}

	var seed keys.Seed
	if phrase := os.Getenv("VEILWALLET_SEED_MNEMONIC"); phrase != "" {
		seed, err = keys.SeedFromMnemonic(phrase)
		if err != nil {
			return nil, nil, err
		}
	} else {
		seed = keys.NewSeed()
		phrase, err := keys.SeedToMnemonic(seed)
		if err != nil {
			return nil, nil, err
		}
		log.Println("[CLI] Generated a fresh wallet seed. Write this down:")
		fmt.Fprintln(os.Stderr, phrase)
	}

	node := daemon.NewHTTPClient(daemon.Config{BaseURL: daemonURL(net)})
	w := wallet.Open(seed, store, node, sink, wallet.Config{Network: net})
	return w, store, nil
}
