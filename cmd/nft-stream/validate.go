package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/devblac/nft-stream/internal/config"
	"github.com/devblac/nft-stream/internal/source/evm"
)

const defaultRPCTimeout = 8 * time.Second

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config, ABIs and the RPC endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d)\n", cfg.Version)

		tr, err := buildTranslator(cfg)
		if err != nil {
			return fmt.Errorf("abi wiring: %w", err)
		}
		for _, ct := range cfg.Contracts {
			topics := tr.Topics(common.HexToAddress(ct.Address))
			fmt.Fprintf(out, "- contract %s (%s): %d events OK\n", ct.Address, ct.Kind, len(topics))
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), defaultRPCTimeout)
		defer cancel()
		chainID, head, err := pingRPC(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return fmt.Errorf("validate: rpc: %w", err)
		}
		fmt.Fprintf(out, "- rpc: chainId %s head %d OK\n", chainID, head)

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}

func pingRPC(ctx context.Context, url string) (string, uint64, error) {
	client, err := evm.NewRPCClient(url)
	if err != nil {
		return "", 0, err
	}
	defer client.Close()

	id, err := client.ChainID(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("call eth_chainId: %w", err)
	}
	head, err := evm.NewReader(client).Height(ctx)
	if err != nil {
		return "", 0, err
	}
	return id.String(), head, nil
}
