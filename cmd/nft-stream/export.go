package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/devblac/nft-stream/internal/config"
	"github.com/devblac/nft-stream/internal/storage"
)

var (
	flagExportFormat string
	flagExportOut    string
	flagExportLimit  int
)

func init() {
	exportCmd.Flags().StringVarP(&flagExportFormat, "format", "f", "csv", "Output format: csv|json")
	exportCmd.Flags().StringVarP(&flagExportOut, "out", "o", "", "Output file (default stdout)")
	exportCmd.Flags().IntVar(&flagExportLimit, "limit", 0, "Maximum trades to export (0 = all)")
}

var exportCmd = &cobra.Command{
	Use:       "export trades|cursors",
	Short:     "Export trades or cursors as csv or json",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"trades", "cursors"},
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.ToLower(flagExportFormat)
		if format != "csv" && format != "json" {
			return fmt.Errorf("unsupported format %q", flagExportFormat)
		}

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		var w io.Writer = cmd.OutOrStdout()
		if flagExportOut != "" {
			f, err := os.Create(flagExportOut)
			if err != nil {
				return fmt.Errorf("create %s: %w", flagExportOut, err)
			}
			defer f.Close()
			w = f
		}

		var table exportTable
		switch args[0] {
		case "trades":
			trades, err := store.ListTrades(cmd.Context(), flagExportLimit)
			if err != nil {
				return err
			}
			table = tradesTable(trades)
		case "cursors":
			cursors, err := store.ListCursors(cmd.Context())
			if err != nil {
				return err
			}
			table = cursorsTable(cursors)
		}
		return table.write(w, format)
	},
}

// exportTable is a header plus string rows; json output keys each row by
// header name.
type exportTable struct {
	header []string
	rows   [][]string
}

func tradesTable(trades []storage.Trade) exportTable {
	t := exportTable{header: []string{
		"id", "contract", "token_id", "seller", "buyer", "price",
		"platform_fee", "royalty_fee", "tx_hash", "sold_at",
	}}
	for _, tr := range trades {
		sold := ""
		if !tr.SoldAt.IsZero() {
			sold = tr.SoldAt.UTC().Format(time.RFC3339)
		}
		t.rows = append(t.rows, []string{
			strconv.FormatInt(tr.ID, 10),
			tr.Contract.Hex(),
			amount(tr.TokenID),
			tr.Seller.Hex(),
			tr.Buyer.Hex(),
			amount(tr.Price),
			amount(tr.PlatformFee),
			amount(tr.RoyaltyFee),
			tr.TxHash.Hex(),
			sold,
		})
	}
	return t
}

func cursorsTable(cursors []storage.Cursor) exportTable {
	t := exportTable{header: []string{"contract", "last_synced_block"}}
	for _, c := range cursors {
		t.rows = append(t.rows, []string{c.Contract.Hex(), strconv.FormatUint(c.LastSyncedBlock, 10)})
	}
	return t
}

func (t exportTable) write(w io.Writer, format string) error {
	if format == "json" {
		out := make([]map[string]string, 0, len(t.rows))
		for _, row := range t.rows {
			m := make(map[string]string, len(t.header))
			for i, h := range t.header {
				m[h] = row[i]
			}
			out = append(out, m)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(t.header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.rows); err != nil {
		return err
	}
	return cw.Error()
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
