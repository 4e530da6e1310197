package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moznion/go-optional"
	"github.com/urfave/cli/v3"

	"github.com/paperfleet/paperfleet/internal/config"
	"github.com/paperfleet/paperfleet/internal/ledger"
	"github.com/paperfleet/paperfleet/internal/logger"
	"github.com/paperfleet/paperfleet/internal/market"
	"github.com/paperfleet/paperfleet/internal/orchestrator"
	"github.com/paperfleet/paperfleet/internal/pipeline"
	"github.com/paperfleet/paperfleet/internal/server"
	"github.com/paperfleet/paperfleet/internal/store"
	"github.com/paperfleet/paperfleet/internal/types"
	"github.com/paperfleet/paperfleet/internal/version"
)

// app bundles the wired components shared by the CLI commands.
type app struct {
	cfg      config.Config
	log      *logger.Logger
	store    *store.Store
	resolver market.PriceResolver
	gate     market.Gate
	ledger   *ledger.Ledger
	orch     *orchestrator.Orchestrator
}

func buildApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	st, err := store.NewStore(cfg.DatabasePath, lg)
	if err != nil {
		return nil, err
	}

	if err := st.Initialize(); err != nil {
		st.Close()
		return nil, err
	}

	var (
		resolver market.PriceResolver
		gate     market.Gate = market.AlwaysOpenGate{}
	)

	if cfg.PolygonAPIKey != "" {
		source, err := market.NewPolygonSource(cfg.PolygonAPIKey)
		if err != nil {
			st.Close()
			return nil, err
		}

		polygonGate, err := market.NewPolygonGate(cfg.PolygonAPIKey)
		if err != nil {
			st.Close()
			return nil, err
		}

		resolver = market.NewCachedResolver(st, source, lg)
		gate = polygonGate
	} else {
		// No API key: every price resolves to the zero sentinel.
		lg.Warn("no polygon api key configured, all prices will resolve to zero")
		resolver = market.NewFixedResolver(nil)
	}

	lgr := ledger.New(st, resolver, ledger.Config{
		StartingBalance: cfg.InitialBalanceDecimal(),
		Spread:          cfg.SpreadDecimal(),
		FeeRate:         cfg.FeeRateDecimal(),
	}, lg)

	pipe := pipeline.NewTraderPipeline(lgr, pipeline.NoopResearcher{}, pipeline.HoldAdvisor{}, lg)
	orch := orchestrator.New(pipe, gate, cfg.Entities, lg)

	return &app{
		cfg:      cfg,
		log:      lg,
		store:    st,
		resolver: resolver,
		gate:     gate,
		ledger:   lgr,
		orch:     orch,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		log.Printf("failed to close store: %v", err)
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	a, err := buildApp(cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.IsBacktest() {
		referenceStart, tradingStart, end, err := a.cfg.BacktestDates()
		if err != nil {
			return err
		}

		window := orchestrator.BacktestWindow{
			ReferenceStart: referenceStart,
			TradingStart:   tradingStart,
			End:            end,
		}

		if cmd.Bool("once") {
			_, err := a.orch.RunOnce(ctx, referenceStart, tradingStart)
			return err
		}

		ticks, err := a.orch.RunBacktest(ctx, window)
		if err != nil {
			return err
		}

		failed := 0
		for _, tick := range ticks {
			if tick.Failed() {
				failed++
			}
		}

		log.Printf("Backtest complete: %d ticks, %d with failures", len(ticks), failed)

		return nil
	}

	if cmd.Bool("once") {
		now := time.Now()
		_, err := a.orch.RunOnce(ctx, now, now)
		return err
	}

	err = a.orch.RunLive(ctx, time.Duration(a.cfg.RunEveryNMinutes)*time.Minute, a.cfg.RunWhenClosed)
	if err == context.Canceled {
		return nil
	}

	return err
}

func resetAction(ctx context.Context, cmd *cli.Command) error {
	a, err := buildApp(cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close()

	names := cmd.Args().Slice()
	if len(names) == 0 {
		for _, entity := range a.cfg.Entities {
			names = append(names, entity.Name)
		}
	}

	strategy := cmd.String("strategy")

	for _, name := range names {
		if err := a.ledger.Reset(ctx, name, strategy); err != nil {
			return err
		}

		if cmd.Bool("analyzed") {
			if err := a.store.DeleteAnalyzed(optional.Some(name)); err != nil {
				return err
			}
		}

		log.Printf("Reset account %s", types.Key(name))
	}

	return nil
}

func reportAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: report <entity>")
	}

	a, err := buildApp(cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.ledger.Report(ctx, cmd.Args().First(), optional.None[time.Time]())
	if err != nil {
		return err
	}

	fmt.Printf("Account:      %s\n", report.Name)
	fmt.Printf("Balance:      $%s\n", report.Balance.StringFixed(2))
	fmt.Printf("Total value:  $%s\n", report.TotalValue.StringFixed(2))
	fmt.Printf("Profit/loss:  $%s\n", report.TotalProfitLoss.StringFixed(2))
	fmt.Printf("Strategy:     %s\n", report.Strategy)

	if len(report.Holdings) > 0 {
		fmt.Println("Holdings:")
		for symbol, qty := range report.Holdings {
			fmt.Printf("  %-8s %d\n", symbol, qty)
		}
	}

	if len(report.Transactions) > 0 {
		fmt.Println("Transactions:")
		for _, tx := range report.Transactions {
			fmt.Printf("  %s\n", tx.String())
		}
	}

	return nil
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	a, err := buildApp(cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close()

	srv := server.New(cmd.String("addr"), a.ledger, a.resolver, a.log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	}
}

func schemaAction(ctx context.Context, cmd *cli.Command) error {
	schema, err := config.GenerateSchemaJSON()
	if err != nil {
		return err
	}

	fmt.Println(schema)

	return nil
}

func main() {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the YAML configuration file",
		Value:   "paperfleet.yaml",
	}

	cmd := &cli.Command{
		Name:    "paperfleet",
		Usage:   "Paper-trading ledger and run orchestrator",
		Version: version.Version,
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run trading ticks (backtest when a window is configured, live otherwise)",
				Flags: []cli.Flag{
					configFlag,
					&cli.BoolFlag{
						Name:  "once",
						Usage: "Run a single tick and exit",
					},
				},
				Action: runAction,
			},
			{
				Name:      "reset",
				Usage:     "Reset accounts to their initial state",
				ArgsUsage: "[entity ...]",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:  "strategy",
						Usage: "Strategy text to set on the reset accounts",
					},
					&cli.BoolFlag{
						Name:  "analyzed",
						Usage: "Also clear the analyzed item records",
					},
				},
				Action: resetAction,
			},
			{
				Name:      "report",
				Usage:     "Print an account report",
				ArgsUsage: "<entity>",
				Flags:     []cli.Flag{configFlag},
				Action:    reportAction,
			},
			{
				Name:  "serve",
				Usage: "Serve account and price data over HTTP",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address",
						Value: ":8080",
					},
				},
				Action: serveAction,
			},
			{
				Name:  "config",
				Usage: "Configuration tooling",
				Commands: []*cli.Command{
					{
						Name:   "schema",
						Usage:  "Print the configuration JSON schema",
						Action: schemaAction,
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
