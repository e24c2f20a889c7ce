package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/devblac/nft-stream/internal/broadcast"
	"github.com/devblac/nft-stream/internal/config"
	"github.com/devblac/nft-stream/internal/engine"
	"github.com/devblac/nft-stream/internal/health"
	"github.com/devblac/nft-stream/internal/logging"
	"github.com/devblac/nft-stream/internal/metrics"
	"github.com/devblac/nft-stream/internal/rooms"
	"github.com/devblac/nft-stream/internal/sink"
	"github.com/devblac/nft-stream/internal/source/evm"
	"github.com/devblac/nft-stream/internal/storage"
	"github.com/devblac/nft-stream/internal/stream"
)

const shutdownTimeout = 5 * time.Second

var (
	flagOnce   bool
	flagDryRun bool
	flagFrom   uint64
	flagListen string
)

func init() {
	runCmd.Flags().BoolVar(&flagOnce, "once", false, "Process every available window and exit")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Log alerts instead of sending them to sinks")
	runCmd.Flags().Uint64Var(&flagFrom, "from", 0, "Start block override for contracts without a cursor")
	runCmd.Flags().StringVar(&flagListen, "listen", "", "Override server.listen (e.g., :8080)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync engine and the subscriber server",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.NewWithLevel(logLevel())

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if flagListen != "" {
			cfg.Server.Listen = flagListen
		}

		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		client, err := evm.NewRPCClient(cfg.Chain.RPCURL)
		if err != nil {
			return err
		}
		defer client.Close()
		reader := evm.NewReader(client)

		translator, err := buildTranslator(cfg)
		if err != nil {
			return err
		}
		sinks, err := buildSinks(cfg)
		if err != nil {
			return err
		}

		mtr := metrics.Init()
		mgr := rooms.NewManager()
		publisher := broadcast.NewRouter(mgr, log, mtr)
		streamSrv := stream.NewServer(mgr, stream.Options{
			QueueSize:       cfg.Server.QueueSize,
			WriteTimeout:    cfg.Server.WriteTimeoutDuration(),
			PingInterval:    cfg.Server.PingIntervalDuration(),
			MaxMessageBytes: cfg.Server.MaxMessageBytes,
			RequestRate:     cfg.Server.RequestRate,
			RequestBurst:    cfg.Server.RequestBurst,
		}, log, mtr)

		eng, err := engine.New(reader, translator, store, publisher, engineContracts(cfg, flagFrom, cmd.Flags().Changed("from")), engine.Options{
			Confirmations: cfg.Global.Confirmations,
			Window:        cfg.Global.Window,
			PollInterval:  cfg.Global.PollEvery(),
			Retry: engine.RetryConfig{
				InitialDelay: cfg.Global.RetryInitial(),
				MaxDelay:     cfg.Global.RetryMax(),
			},
			Once: flagOnce,
		}, log, mtr)
		if err != nil {
			return err
		}

		healthz := health.Handler(health.Checker{
			DBPing:  store.Ping,
			RPCPing: reader.Ping,
			Phase:   func() string { return string(eng.Status().Phase) },
		})
		httpSrv := &http.Server{
			Addr:              cfg.Server.Listen,
			Handler:           stream.NewRouter(streamSrv, healthz),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			log.Info("subscriber server starting", "addr", httpSrv.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("subscriber server: %w", err)
			}
			log.Info("subscriber server stopped")
			return nil
		})

		if err := eng.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			select {
			case <-gctx.Done():
				eng.Stop()
				return nil
			case <-eng.Done():
			}
			// The loop ended on its own: --once finished or the engine halted.
			defer cancel()
			err := eng.Err()
			if err == nil {
				return nil
			}
			if errors.Is(err, engine.ErrHalted) {
				sendAlert(log, mtr, sinks, eng.Status(), err)
			}
			return err
		})

		g.Go(func() error {
			<-gctx.Done()
			streamSrv.Close()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()
			return httpSrv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

// sendAlert notifies every sink that the engine halted. Sink failures are
// logged; they never mask the halt error.
func sendAlert(log *slog.Logger, mtr *metrics.Metrics, sinks map[string]sink.Sender, st engine.Status, cause error) {
	alert := sink.Alert{
		Severity: "critical",
		Message:  "sync engine halted",
		Error:    cause.Error(),
		Phase:    string(st.Phase),
		Head:     st.Head,
		Target:   st.Target,
		Cursors:  make(map[string]uint64, len(st.Cursors)),
		Time:     time.Now().UTC(),
	}
	for addr, block := range st.Cursors {
		alert.Cursors[addr.Hex()] = block
	}

	if flagDryRun || len(sinks) == 0 {
		log.Warn("alert not sent", "dry_run", flagDryRun, "sinks", len(sinks), "message", alert.Message, "error", alert.Error)
		mtr.AlertsDropped()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sink.Fanout(ctx, sinks, alert); err != nil {
		mtr.AlertsDropped()
		log.Error("alert delivery failed", "err", err)
		return
	}
	mtr.AlertsSent()
	log.Info("alert sent", "sinks", len(sinks))
}
