package main

import (
	"bytes"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devblac/nft-stream/internal/config"
	"github.com/devblac/nft-stream/internal/storage"
)

func TestWriteScaffoldKeepsExistingFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	written, err := writeScaffold(path, "first", false)
	if err != nil || !written {
		t.Fatalf("first write: written=%v err=%v", written, err)
	}
	written, err = writeScaffold(path, "second", false)
	if err != nil || written {
		t.Fatalf("second write without force: written=%v err=%v", written, err)
	}
	if body, _ := os.ReadFile(path); string(body) != "first" {
		t.Fatalf("file overwritten: %q", body)
	}
	if written, err = writeScaffold(path, "third", true); err != nil || !written {
		t.Fatalf("forced write: written=%v err=%v", written, err)
	}
	if body, _ := os.ReadFile(path); string(body) != "third" {
		t.Fatalf("force did not overwrite: %q", body)
	}
}

func TestSampleConfigLoads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(sampleEnv), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("RPC_URL")
		os.Unsetenv("SLACK_WEBHOOK_URL")
	})

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
	if _, err := buildTranslator(cfg); err != nil {
		t.Fatalf("bundled abis should wire: %v", err)
	}
	sinks, err := buildSinks(cfg)
	if err != nil || len(sinks) != 1 {
		t.Fatalf("sinks = %d err=%v", len(sinks), err)
	}
}

func TestEngineContractsFromOverride(t *testing.T) {
	cfg := &config.Config{Contracts: []config.Contract{
		{Kind: config.KindNFT, Address: "0x00000000000000000000000000000000000000a1", StartBlock: "latest-10"},
		{Kind: config.KindMarketplace, Address: "0x00000000000000000000000000000000000000b2", StartBlock: "7"},
	}}

	got := engineContracts(cfg, 0, false)
	if got[0].StartBlock != "latest-10" || got[1].StartBlock != "7" {
		t.Fatalf("start blocks changed without override: %+v", got)
	}
	got = engineContracts(cfg, 500, true)
	for _, c := range got {
		if c.StartBlock != "500" {
			t.Fatalf("override not applied: %+v", c)
		}
	}
	got = engineContracts(cfg, 0, true)
	for _, c := range got {
		if c.StartBlock != "0" {
			t.Fatalf("--from 0 should override: %+v", c)
		}
	}
	if got[0].Address != common.HexToAddress("0xa1") {
		t.Fatalf("address = %s", got[0].Address.Hex())
	}
}

func TestExportTables(t *testing.T) {
	trades := []storage.Trade{{
		ID:          1,
		Contract:    common.HexToAddress("0xb2"),
		TokenID:     big.NewInt(7),
		Seller:      common.HexToAddress("0x01"),
		Buyer:       common.HexToAddress("0x02"),
		Price:       big.NewInt(1000),
		PlatformFee: big.NewInt(25),
		TxHash:      common.HexToHash("0xabc"),
		SoldAt:      time.Unix(1700000000, 0),
	}}

	var buf bytes.Buffer
	if err := tradesTable(trades).write(&buf, "csv"); err != nil {
		t.Fatalf("csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "id,contract,token_id") {
		t.Fatalf("csv output = %q", buf.String())
	}
	if !strings.Contains(lines[1], ",1000,25,0,") || !strings.Contains(lines[1], "2023-11-14T22:13:20Z") {
		t.Fatalf("csv row = %q", lines[1])
	}

	buf.Reset()
	cursors := []storage.Cursor{{Contract: common.HexToAddress("0xa1"), LastSyncedBlock: 42}}
	if err := cursorsTable(cursors).write(&buf, "json"); err != nil {
		t.Fatalf("json: %v", err)
	}
	var rows []map[string]string
	if err := json.Unmarshal(buf.Bytes(), &rows); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if len(rows) != 1 || rows[0]["last_synced_block"] != "42" || rows[0]["contract"] != common.HexToAddress("0xa1").Hex() {
		t.Fatalf("json rows = %+v", rows)
	}
}

func TestExportEmptyJSONIsArray(t *testing.T) {
	var buf bytes.Buffer
	if err := tradesTable(nil).write(&buf, "json"); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Fatalf("empty export = %q", buf.String())
	}
}

func TestLag(t *testing.T) {
	if lag(100, 90) != 10 || lag(100, 100) != 0 || lag(100, 120) != 0 {
		t.Fatal("lag arithmetic")
	}
}
