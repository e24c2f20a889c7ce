package evm

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abis/*.json
var defaultABIs embed.FS

// LoadABIs loads ABI JSON files from the provided directories.
func LoadABIs(dirs []string) (map[string]*abi.ABI, error) {
	abis := map[string]*abi.ABI{}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".json") {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read abi %s: %w", path, err)
			}
			a, err := abi.JSON(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("parse abi %s: %w", path, err)
			}
			abis[path] = &a
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return abis, nil
}

// DefaultABI returns the bundled event ABI for a contract kind ("nft" or
// "marketplace").
func DefaultABI(kind string) (*abi.ABI, error) {
	name := "abis/token.json"
	if kind == KindMarketplace {
		name = "abis/marketplace.json"
	}
	data, err := defaultABIs.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read bundled abi %s: %w", name, err)
	}
	a, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse bundled abi %s: %w", name, err)
	}
	return &a, nil
}

// ContractABIs returns the ABIs to decode a contract with: the files under
// dirs when any are configured, otherwise the bundled default.
func ContractABIs(kind string, dirs []string) (map[string]*abi.ABI, error) {
	abis, err := LoadABIs(dirs)
	if err != nil {
		return nil, err
	}
	if len(abis) > 0 {
		return abis, nil
	}
	a, err := DefaultABI(kind)
	if err != nil {
		return nil, err
	}
	return map[string]*abi.ABI{"bundled:" + kind: a}, nil
}

// FindEvent searches loaded ABIs for an event with the given name. ABIs are
// searched in key order, so when several define the name the first file wins.
func FindEvent(abis map[string]*abi.ABI, eventName string) (*abi.Event, bool) {
	names := make([]string, 0, len(abis))
	for name := range abis {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if ev, ok := abis[name].Events[eventName]; ok {
			return &ev, true
		}
	}
	return nil, false
}
