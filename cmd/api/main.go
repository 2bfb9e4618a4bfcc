package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/smarthome-agent/backend/internal/api/handlers"
	"github.com/smarthome-agent/backend/internal/cache/redis"
	"github.com/smarthome-agent/backend/internal/chat"
	"github.com/smarthome-agent/backend/internal/devices"
	"github.com/smarthome-agent/backend/internal/diagnostic"
	"github.com/smarthome-agent/backend/internal/intent"
	"github.com/smarthome-agent/backend/internal/llm"
	"github.com/smarthome-agent/backend/internal/metrics"
	"github.com/smarthome-agent/backend/internal/middleware/ratelimit"
	"github.com/smarthome-agent/backend/internal/middleware/security"
	"github.com/smarthome-agent/backend/internal/middleware/validation"
	"github.com/smarthome-agent/backend/internal/registry"
	"github.com/smarthome-agent/backend/internal/search/web"
	"github.com/smarthome-agent/backend/internal/semantic"
	"github.com/smarthome-agent/backend/internal/storage/sqlite"
	"github.com/smarthome-agent/backend/internal/topology"
	"github.com/smarthome-agent/backend/internal/vector/milvus"
	"github.com/smarthome-agent/backend/pkg/config"
	appLogger "github.com/smarthome-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Smart Home Diagnostic Agent API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)

	// Redis is optional; without it every sync re-embeds changed documents.
	redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Warn("Redis unavailable, embedding cache disabled", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	deviceClient := devices.NewHTTPClient(
		cfg.Platform.BaseURL,
		cfg.Platform.Token,
		time.Duration(cfg.Platform.TimeoutSec)*time.Second,
	)

	reg := registry.New()
	classifier := intent.NewClassifier(llmClient, cfg.Intent.CacheSize, cfg.Intent.CacheTTL)

	bootstrapCtx, cancelBootstrap := context.WithTimeout(context.Background(), 30*time.Second)
	refreshRegistry(bootstrapCtx, deviceClient, reg, classifier)
	cancelBootstrap()

	var index *semantic.Index
	if redisClient != nil {
		index = semantic.NewIndex(milvusClient, llmClient, redisClient, reg,
			cfg.Semantic.MinSimilarity, cfg.Semantic.EmbeddingTTL, cfg.Semantic.SyncInterval)
	} else {
		index = semantic.NewIndex(milvusClient, llmClient, nil, reg,
			cfg.Semantic.MinSimilarity, cfg.Semantic.EmbeddingTTL, cfg.Semantic.SyncInterval)
	}

	indexCtx, cancelIndex := context.WithCancel(context.Background())
	defer cancelIndex()

	if err := index.Initialize(indexCtx); err != nil {
		appLogger.Fatal("Failed to initialize semantic index", zap.Error(err))
	}
	if _, err := index.SyncWithRegistry(indexCtx); err != nil {
		appLogger.Warn("Initial index sync failed", zap.Error(err))
	}
	index.StartPeriodicSync(indexCtx)
	defer index.StopPeriodicSync()

	// Neo4j is optional; without it the diagnostic skips automation analysis.
	var graph *topology.Graph
	if cfg.Neo4j.URI != "" {
		graph, err = topology.NewGraph(cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
		if err != nil {
			appLogger.Warn("Neo4j unavailable, automation analysis disabled", zap.Error(err))
			graph = nil
		} else {
			defer graph.Close(context.Background())
			syncTopology(deviceClient, graph, cfg.Platform.LocationID)
		}
	}

	diagCfg := diagnostic.Config{
		EventLookback:       time.Duration(cfg.Diagnostic.EventLookbackHours) * time.Hour,
		RapidChangeCount:    cfg.Diagnostic.RapidChangeCount,
		RapidChangeWindow:   cfg.Diagnostic.RapidChangeWindow,
		BranchTimeout:       cfg.Diagnostic.BranchTimeout,
		AutomationThreshold: cfg.Diagnostic.AutomationThreshold,
		SimilarDeviceLimit:  cfg.Diagnostic.SimilarDeviceLimit,
	}
	var workflow *diagnostic.Workflow
	if graph != nil {
		workflow = diagnostic.NewWorkflow(deviceClient, reg, index, graph, diagCfg)
	} else {
		workflow = diagnostic.NewWorkflow(deviceClient, reg, index, nil, diagCfg)
	}

	toolset := chat.NewToolset(reg, deviceClient, index, workflow, classifier)

	var orchestrator *chat.Orchestrator
	if cfg.Search.Enabled && cfg.Search.SerpAPIKey != "" {
		webClient := web.NewClient(cfg.Search.SerpAPIKey, llmClient,
			time.Duration(cfg.Search.TimeoutSec)*time.Second)
		orchestrator = chat.NewOrchestrator(llmClient, toolset, webClient)
		orchestrator.SetSearchConfig(web.SearchConfig{MaxResults: cfg.Search.MaxResults})
	} else {
		appLogger.Info("Web search disabled")
		orchestrator = chat.NewOrchestrator(llmClient, toolset, nil)
	}

	go registryRefreshLoop(indexCtx, deviceClient, reg, classifier, cfg.Semantic.SyncInterval)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(ratelimit.New(ratelimit.Config{Logger: appLogger.GetLogger()}).Middleware())
	app.Use(validation.Middleware(validation.Config{Logger: appLogger.GetLogger()}))

	chatHandler := handlers.NewChatHandler(orchestrator, sqliteClient)
	diagnosticHandler := handlers.NewDiagnosticHandler(workflow, classifier, sqliteClient)
	searchHandler := handlers.NewSearchHandler(index)
	statsHandler := handlers.NewStatsHandler(classifier, index, reg)
	feedbackHandler := handlers.NewFeedbackHandler(sqliteClient)
	wsHandler := handlers.NewWebSocketHandler(orchestrator)

	api := app.Group("/api/v1")

	api.Post("/chat", chatHandler.HandleChat)
	api.Get("/chat/history", chatHandler.GetHistory)
	api.Get("/chat/mode", chatHandler.GetMode)
	api.Post("/chat/mode", chatHandler.SetMode)

	api.Post("/diagnose", diagnosticHandler.HandleDiagnose)
	api.Get("/diagnose/history", diagnosticHandler.GetHistory)

	api.Post("/search/devices", searchHandler.HandleSearch)

	api.Get("/intent/cache/stats", statsHandler.IntentCacheStats)
	api.Get("/semantic/stats", statsHandler.SemanticStats)
	api.Get("/system/status", statsHandler.RegistryStatus)

	api.Post("/feedback", feedbackHandler.HandleFeedback)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		stats := index.Stats(c.Context())
		if !stats.Healthy {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not ready",
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}

// refreshRegistry pulls the device inventory, refreshes the in-memory
// registry, and pushes the new vocabulary into the classifier.
func refreshRegistry(ctx context.Context, client *devices.HTTPClient, reg *registry.Registry, classifier *intent.Classifier) {
	list, err := client.ListDevices(ctx)
	if err != nil {
		appLogger.Warn("Device inventory refresh failed", zap.Error(err))
		return
	}
	reg.Refresh(list)
	classifier.SetVocabulary(reg.DeviceNames(), reg.RoomNames())

	online := 0
	for _, d := range list {
		if d.Online {
			online++
		}
	}
	metrics.RegisteredDevices.WithLabelValues("online").Set(float64(online))
	metrics.RegisteredDevices.WithLabelValues("offline").Set(float64(len(list) - online))

	appLogger.Info("Device registry refreshed",
		zap.Int("devices", len(list)),
		zap.Int("online", online))
}

func registryRefreshLoop(ctx context.Context, client *devices.HTTPClient, reg *registry.Registry, classifier *intent.Classifier, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			refreshRegistry(refreshCtx, client, reg, classifier)
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// syncTopology projects the platform's automation rules into the graph.
// Failure is tolerated; the diagnostic degrades to skipping automations.
func syncTopology(client *devices.HTTPClient, graph *topology.Graph, locationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rules, err := client.ListRules(ctx, locationID)
	if err != nil {
		appLogger.Warn("Failed to list automation rules", zap.Error(err))
		return
	}
	if err := graph.SyncRules(ctx, rules); err != nil {
		appLogger.Warn("Failed to sync rule topology", zap.Error(err))
		return
	}
	appLogger.Info("Rule topology synced", zap.Int("rules", len(rules)))
}
