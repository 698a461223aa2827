package cli

import (
	"fmt"
	"log"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rawblock/veilwallet/internal/api"
	"github.com/rawblock/veilwallet/internal/builder"
	"github.com/rawblock/veilwallet/internal/consensus"
	"github.com/rawblock/veilwallet/internal/mining"
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print the wallet balance per asset",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, store, err := openWallet(nil)
		if err != nil {
			return err
		}
		defer store.Close()

		total, unlocked, err := w.Balance(cmd.Context(), consensus.DefaultAssetType)
		if err != nil {
			return err
		}
		fmt.Printf("Balance: %d atomic (%d unlocked)\n", total, unlocked)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync the wallet against the remote node",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, store, err := openWallet(nil)
		if err != nil {
			return err
		}
		defer store.Close()

		go func() {
			<-cmd.Context().Done()
			w.StopSync()
		}()

		if err := w.Sync(cmd.Context()); err != nil {
			return err
		}
		synced, target := w.SyncProgress()
		fmt.Printf("Synced to height %d (target %d)\n", synced, target)
		return nil
	},
}

var transferCmd = &cobra.Command{
	Use:   "transfer <address> <amount>",
	Short: "Send atomic units to an address",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil || amount == 0 {
			return fmt.Errorf("amount %q must be a positive integer of atomic units", args[1])
		}

		w, store, err := openWallet(nil)
		if err != nil {
			return err
		}
		defer store.Close()

		res, err := w.Transfer(cmd.Context(), args[0], amount, builder.Options{})
		if err != nil {
			return err
		}
		fmt.Printf("Sent. txid=%s fee=%d change=%d\n", res.TxID, res.Fee, res.Change)
		return nil
	},
}

var mineCmd = &cobra.Command{
	Use:   "mine [full|light]",
	Short: "Mine blocks against node templates",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := "light"
		if len(args) == 1 {
			mode = args[0]
		}
		var hasher mining.Hasher
		switch mode {
		case "light":
			log.Println("[CLI] Light mode: Keccak stand-in hasher (private nets only)")
			hasher = mining.KeccakHasher{}
		case "full":
			return fmt.Errorf("full mode needs the external PoW hasher; none is linked into this build")
		default:
			return fmt.Errorf("mine mode must be full or light, got %q", mode)
		}

		w, store, err := openWallet(nil)
		if err != nil {
			return err
		}
		defer store.Close()

		addr, err := w.PrimaryAddress()
		if err != nil {
			return err
		}
		m := w.NewMiner(hasher, addr)

		for cmd.Context().Err() == nil {
			fb, err := m.MineOnce(cmd.Context(), 0, 1<<32-1)
			if err != nil {
				return err
			}
			if fb == nil {
				continue // template went stale, fetch a fresh one
			}
			if err := m.Submit(cmd.Context(), fb); err != nil {
				log.Printf("[CLI] Submit failed: %v", err)
			}
		}
		return cmd.Context().Err()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local wallet REST/WebSocket API",
	RunE: func(cmd *cobra.Command, args []string) error {
		hub := api.NewHub()
		go hub.Run()

		w, store, err := openWallet(api.BroadcastSyncEvent(hub))
		if err != nil {
			return err
		}
		defer store.Close()

		r := api.SetupRouter(w, store, hub)
		port := getEnvOrDefault("PORT", "5339")
		log.Printf("[CLI] Wallet API listening on :%s", port)
		return r.Run(":" + port)
	},
}

func init() {
	rootCmd.AddCommand(balanceCmd, syncCmd, transferCmd, mineCmd, serveCmd)
}
