package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"bookkeeper/internal/amqp"
	"bookkeeper/internal/cli"
	"bookkeeper/internal/config"
	"bookkeeper/internal/delivery"
	apphttp "bookkeeper/internal/http"
	"bookkeeper/internal/ledger"
	"bookkeeper/internal/log"
	"bookkeeper/internal/schedule"
	"bookkeeper/internal/services"
	gsheet "bookkeeper/internal/sheets/google"
	"bookkeeper/internal/tz"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	logger.Info("Starting bookkeeper")

	cfg := cli.LoadAndValidateConfig(logger)

	defaults, err := cfg.DefaultState()
	if err != nil {
		logger.Error("Invalid initial settings", log.FieldError, err)
		os.Exit(1)
	}

	backend := cli.OpenBackend(logger, cfg)
	defer backend.Close()

	resolver := tz.NewResolver()
	store := ledger.NewStore(ledger.Options{
		MaxRecords:  cfg.MaxRecords,
		DedupWindow: cfg.DedupWindow,
		Persister:   backend,
		Logger:      logger,
		Resolver:    resolver,
		Defaults:    defaults,
	})
	if err := store.Load(context.Background()); err != nil {
		logger.Error("Failed to load ledger state", log.FieldError, err)
		os.Exit(1)
	}

	// AMQP carries both the inbound facts and, optionally, outbound reports
	var amqpClient *amqp.Client
	if cfg.AMQPEnabled() {
		amqpClient, err = amqp.NewClient(amqp.Config{
			URL:          cfg.AMQPURL,
			Exchange:     cfg.AMQPExchange,
			ExpenseQueue: cfg.AMQPExpenseQueue,
			ReportQueue:  cfg.AMQPReportQueue,
		}, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPExpenseQueue)
	}

	deliverer, err := newDeliverer(cfg, logger, amqpClient)
	if err != nil {
		logger.Error("Failed to initialize report delivery", log.FieldError, err, log.FieldBackend, cfg.DeliveryBackend)
		os.Exit(1)
	}

	opts := []services.Option{services.WithLogger(logger)}
	if cfg.SheetsEnabled() {
		mirror, err := gsheet.New(context.Background(), gsheet.Config{
			SpreadsheetID:      cfg.GoogleSpreadsheetID,
			SheetName:          cfg.GoogleSheetName,
			ServiceAccountFile: cfg.GoogleServiceAccountFile,
			ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
		}, logger)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets mirror", log.FieldError, err)
			os.Exit(1)
		}
		opts = append(opts, services.WithMirror(mirror))
		logger.Info("Google Sheets mirror initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets mirror disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	svc := services.NewBookkeeper(store, deliverer, services.Config{
		Currency:            cfg.CurrencySymbol,
		MaxReportItems:      cfg.MaxReportItems,
		DeliveryTimeout:     cfg.DeliveryTimeout,
		DeliveryConcurrency: cfg.DeliveryConcurrency,
	}, opts...)

	engine := schedule.NewEngine(svc.RunReport, schedule.Options{
		Resolver: resolver,
		Logger:   logger,
	})
	svc.SetScheduler(engine)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx)
	})
	if cfg.HTTPEnabled {
		srv := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
			Logger:            logger,
			RequestsPerMinute: cfg.RateLimitPerMinute,
		})
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}
	if amqpClient != nil {
		g.Go(func() error {
			return amqpClient.ConsumeExpenseFacts(gctx, amqp.NewFactHandler(svc))
		})
	}

	logger.Info("Bookkeeper running",
		log.FieldBackend, cfg.DataBackend,
		"delivery", cfg.DeliveryBackend,
		"http", cfg.HTTPEnabled,
		"amqp", amqpClient != nil)

	runErr := g.Wait()

	// Let in-flight reports and mirror appends finish before closing storage
	engine.Wait()
	svc.Wait()

	if runErr != nil {
		logger.Error("Bookkeeper stopped with error", log.FieldError, runErr)
		if amqpClient != nil {
			_ = amqpClient.Close()
		}
		_ = backend.Close()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Bookkeeper stopped gracefully")
}

// newDeliverer picks where scheduled reports go.
func newDeliverer(cfg *config.Config, logger *log.Logger, amqpClient *amqp.Client) (delivery.Deliverer, error) {
	switch cfg.DeliveryBackend {
	case delivery.BackendAMQP:
		if amqpClient == nil {
			return nil, fmt.Errorf("amqp delivery requires AMQP_URL")
		}
		return amqpClient, nil
	case delivery.BackendDiscord:
		d, err := delivery.NewDiscord(cfg.DiscordBotToken)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return delivery.NewLog(logger), nil
	}
}
