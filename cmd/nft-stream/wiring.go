package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devblac/nft-stream/internal/config"
	"github.com/devblac/nft-stream/internal/engine"
	"github.com/devblac/nft-stream/internal/sink"
	"github.com/devblac/nft-stream/internal/source/evm"
)

func logLevel() string {
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		return lvl
	}
	return "info"
}

// buildTranslator loads each contract's ABIs (configured dirs or the bundled
// defaults) and builds the decoder table.
func buildTranslator(cfg *config.Config) (*evm.Translator, error) {
	contracts := make([]evm.Contract, 0, len(cfg.Contracts))
	for _, ct := range cfg.Contracts {
		abis, err := evm.ContractABIs(ct.Kind, ct.ABIDirs)
		if err != nil {
			return nil, fmt.Errorf("contract %s abis: %w", ct.Address, err)
		}
		contracts = append(contracts, evm.Contract{
			Kind:    ct.Kind,
			Address: common.HexToAddress(ct.Address),
			ABIs:    abis,
		})
	}
	return evm.NewTranslator(contracts...)
}

// engineContracts maps configured contracts to engine contracts. When
// override is set, from replaces every start block (zero included); it only
// matters for contracts that have no cursor yet.
func engineContracts(cfg *config.Config, from uint64, override bool) []engine.Contract {
	out := make([]engine.Contract, 0, len(cfg.Contracts))
	for _, ct := range cfg.Contracts {
		start := ct.StartBlock
		if override {
			start = fmt.Sprintf("%d", from)
		}
		out = append(out, engine.Contract{
			Address:    common.HexToAddress(ct.Address),
			StartBlock: start,
		})
	}
	return out
}

func buildSinks(cfg *config.Config) (map[string]sink.Sender, error) {
	sinks := map[string]sink.Sender{}
	for _, s := range cfg.Sinks {
		var (
			sender sink.Sender
			err    error
		)
		switch strings.ToLower(s.Type) {
		case "slack":
			sender, err = sink.NewSlackSender(s.WebhookURL, s.Template)
		case "teams":
			sender, err = sink.NewTeamsSender(s.WebhookURL, s.Template)
		case "webhook":
			sender, err = sink.NewWebhookSender(s.URL, s.Method, s.Template, nil)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("sink %s: %w", s.ID, err)
		}
		sinks[s.ID] = sender
	}
	return sinks, nil
}
