package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/devblac/nft-stream/internal/config"
	"github.com/devblac/nft-stream/internal/storage"
)

var flagOffline bool

func init() {
	stateCmd.Flags().BoolVar(&flagOffline, "offline", false, "Skip the chain head lookup")
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show cursors, processing lag and market totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		cursors, err := store.ListCursors(ctx)
		if err != nil {
			return err
		}
		byAddr := make(map[common.Address]uint64, len(cursors))
		for _, c := range cursors {
			byAddr[c.Contract] = c.LastSyncedBlock
		}

		var target uint64
		haveTarget := false
		if !flagOffline {
			rpcCtx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
			_, head, err := pingRPC(rpcCtx, cfg.Chain.RPCURL)
			cancel()
			if err != nil {
				fmt.Fprintf(out, "chain head unavailable: %v\n", err)
			} else {
				target = head - min(head, cfg.Global.Confirmations)
				haveTarget = true
				fmt.Fprintf(out, "head %d, confirmed target %d\n", head, target)
			}
		}

		for _, ct := range cfg.Contracts {
			addr := common.HexToAddress(ct.Address)
			block, ok := byAddr[addr]
			line := fmt.Sprintf("- %-11s %s", ct.Kind, addr.Hex())
			switch {
			case !ok:
				line += " cursor none"
			case haveTarget:
				line += fmt.Sprintf(" cursor %d lag %d", block, lag(target, block))
			default:
				line += fmt.Sprintf(" cursor %d", block)
			}
			fmt.Fprintln(out, line)
		}

		stats, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		floor := "none"
		if stats.FloorPrice != nil {
			floor = stats.FloorPrice.String()
		}
		fmt.Fprintln(out, strings.Join([]string{
			fmt.Sprintf("active listings %d", stats.ActiveListings),
			fmt.Sprintf("floor %s", floor),
			fmt.Sprintf("trades %d", stats.Trades),
			fmt.Sprintf("volume %s", stats.Volume),
		}, ", "))
		return nil
	},
}

func lag(target, cursor uint64) uint64 {
	if cursor >= target {
		return 0
	}
	return target - cursor
}
