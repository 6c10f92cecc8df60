package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/market-insight/retriever/internal/api/handlers"
	"github.com/market-insight/retriever/internal/cache/redis"
	"github.com/market-insight/retriever/internal/dispatch"
	"github.com/market-insight/retriever/internal/evaluation"
	"github.com/market-insight/retriever/internal/kg/builder"
	"github.com/market-insight/retriever/internal/kg/neo4j"
	"github.com/market-insight/retriever/internal/llm"
	"github.com/market-insight/retriever/internal/metrics"
	"github.com/market-insight/retriever/internal/query"
	"github.com/market-insight/retriever/internal/router"
	"github.com/market-insight/retriever/internal/sqltemplate"
	"github.com/market-insight/retriever/internal/storage/relational"
	"github.com/market-insight/retriever/pkg/circuitbreaker"
	"github.com/market-insight/retriever/pkg/config"
	appLogger "github.com/market-insight/retriever/pkg/logger"
)

func main() {
	seedGraph := flag.Bool("seed-graph", false, "mirror the built-in company dictionary into the graph store and exit")
	evalRoutes := flag.String("eval-routes", "", "classify a labeled JSON dataset, print a routing report and exit")
	readStdin := flag.Bool("stdin", true, "process newline-delimited JSON requests from stdin; exit at EOF")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting market retriever")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		DefaultTTL: time.Duration(cfg.Breaker.DefaultTTLSec) * time.Second,
		TTLs:       cfg.Breaker.TTLs(),
		OnStateChange: func(key string, _ circuitbreaker.State, to circuitbreaker.State) {
			metrics.SetBreakerOpen(key, to == circuitbreaker.StateOpen)
		},
		Logger: appLogger.GetLogger(),
	})

	store, err := relational.NewClient(ctx, relational.Config{
		Driver:         cfg.Relational.Driver,
		DSN:            cfg.Relational.DSN,
		MaxOpenConns:   cfg.Relational.MaxOpenConns,
		MaxIdleConns:   cfg.Relational.MaxIdleConns,
		ConnectTimeout: time.Duration(cfg.Relational.ConnectTimeoutSec) * time.Second,
	})
	if err != nil {
		appLogger.Fatal("Failed to create relational client", zap.Error(err))
	}
	defer store.Close()

	if err := store.InitSchema(ctx); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var (
		graph       dispatch.GraphReader
		graphClient *neo4j.Client
	)
	if cfg.Neo4j.Enabled {
		graphClient, err = neo4j.NewClient(ctx, neo4j.Config{
			URI:            cfg.Neo4j.URI,
			Username:       cfg.Neo4j.Username,
			Password:       cfg.Neo4j.Password,
			Database:       cfg.Neo4j.Database,
			ConnectTimeout: time.Duration(cfg.Neo4j.ConnectTimeoutSec) * time.Second,
			QueryTimeout:   time.Duration(cfg.Neo4j.QueryTimeoutSec) * time.Second,
		})
		if err != nil {
			appLogger.Warn("Graph store unavailable, graph probes will report errors", zap.Error(err))
		} else {
			graph = graphClient
			defer graphClient.Close(context.Background())
		}
	}

	if *seedGraph {
		if graphClient == nil {
			appLogger.Fatal("Cannot seed graph: graph store is not connected")
		}
		if _, err := builder.NewBuilder(graphClient).SeedCompanies(ctx, router.DefaultCompanies); err != nil {
			appLogger.Fatal("Failed to seed graph", zap.Error(err))
		}
		return
	}

	routerOpts := []router.Option{}
	var routeCache handlers.RouteCache
	if cfg.Redis.Enabled {
		cacheClient, err := redis.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Route cache unavailable, continuing without it", zap.Error(err))
		} else {
			defer cacheClient.Close()
			routeCache = cacheClient
			routerOpts = append(routerOpts, router.WithCache(cacheClient))
		}
	}

	if cfg.LLM.Enabled {
		classifier := llm.NewClient(llm.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		}, breakers)
		routerOpts = append(routerOpts, router.WithClassifier(classifier))
	}

	queryRouter := router.New(router.Config{
		DefaultModel: cfg.LLM.Model,
		AgentModels:  cfg.LLM.AgentModels,
		CacheTTL:     time.Duration(cfg.Redis.RouteCacheTTLSec) * time.Second,
	}, routerOpts...)

	if *evalRoutes != "" {
		if err := runRouteEvaluation(ctx, queryRouter, *evalRoutes); err != nil {
			appLogger.Fatal("Routing evaluation failed", zap.Error(err))
		}
		return
	}

	executor := sqltemplate.NewExecutor(store, breakers, sqltemplate.Config{
		RowLimit:           cfg.Retrieval.RowLimit,
		EquityLookbackBars: cfg.Retrieval.EquityLookbackBars,
		EarningsEventLimit: cfg.Retrieval.EarningsEventLimit,
		EarningsFetchLimit: cfg.Retrieval.EarningsFetchLimit,
		EarningsWindowDays: cfg.Retrieval.EarningsWindowDays,
		RealEstateRowLimit: cfg.Retrieval.RealEstateRowLimit,
		MaxTablesPerLookup: cfg.Retrieval.MaxTablesPerLookup,
	})

	dispatcher := dispatch.New(executor, graph, breakers, dispatch.Config{
		GraphRowLimit: cfg.Retrieval.GraphRowLimit,
		Concurrent:    cfg.Retrieval.ConcurrentDispatch,
	}, dispatch.WithRecorder(metrics.Recorder{}))

	engine := query.NewEngine(queryRouter, dispatcher, query.Config{
		RequestTimeout: cfg.Retrieval.RequestTimeout(),
	}, query.WithAudit(store))

	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{Output: os.Stderr}))

	app.Get("/metrics", metrics.MetricsHandler())
	handlers.NewOpsHandler(breakers, store, routeCache).Register(app.Group("/api/v1"))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Ops server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Error("Ops server stopped", zap.Error(err))
		}
	}()

	if *readStdin {
		processed, err := servePipe(ctx, engine, os.Stdin, os.Stdout)
		if err != nil && ctx.Err() == nil {
			appLogger.Error("Request pipe failed", zap.Error(err))
		}
		appLogger.Info("Request pipe finished", zap.Int("processed", processed))
	} else {
		<-ctx.Done()
	}

	appLogger.Info("Shutting down gracefully...")
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		appLogger.Warn("Ops server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Stopped")
}

func runRouteEvaluation(ctx context.Context, r evaluation.Classifier, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read dataset: %w", err)
	}
	dataset, err := evaluation.LoadDataset(data)
	if err != nil {
		return err
	}
	report := evaluation.NewEvaluator(r).Run(ctx, dataset)
	fmt.Fprint(os.Stdout, evaluation.GenerateReport(report))
	return nil
}
