package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const sampleConfig = `version: 1

global:
  db_path: ./nft-stream.db
  confirmations: 6
  window: 1000
  poll_interval: 5s
  retry:
    initial: 1s
    max: 1m

chain:
  rpc_url: ${RPC_URL}

contracts:
  - kind: nft
    address: "0x0000000000000000000000000000000000000001"
    start_block: latest-1000
  - kind: marketplace
    address: "0x0000000000000000000000000000000000000002"
    start_block: latest-1000

server:
  listen: ":8080"
  queue_size: 256
  write_timeout: 10s
  ping_interval: 30s
  max_message_bytes: 4096
  request_rate: 10
  request_burst: 20

sinks:
  - id: ops
    type: slack
    webhook_url: ${SLACK_WEBHOOK_URL}
`

const sampleEnv = `RPC_URL=http://localhost:8545
SLACK_WEBHOOK_URL=https://hooks.slack.com/services/replace-me
`

var flagForce bool

func init() {
	initCmd.Flags().BoolVar(&flagForce, "force", false, "Overwrite existing files")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample config and .env next to it",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		envPath := filepath.Join(filepath.Dir(cfgPath), ".env")
		for _, f := range []struct {
			path string
			body string
		}{
			{cfgPath, sampleConfig},
			{envPath, sampleEnv},
		} {
			written, err := writeScaffold(f.path, f.body, flagForce)
			if err != nil {
				return err
			}
			if written {
				fmt.Fprintf(out, "wrote %s\n", f.path)
			} else {
				fmt.Fprintf(out, "skipped %s (exists, use --force to overwrite)\n", f.path)
			}
		}
		return nil
	},
}

func writeScaffold(path, body string, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("stat %s: %w", path, err)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
