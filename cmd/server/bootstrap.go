package main

import (
	"context"

	"github.com/huangang/auditreport/internal/config"
	"github.com/huangang/auditreport/internal/handlers"
	"github.com/huangang/auditreport/internal/models"
	"github.com/huangang/auditreport/internal/services"
	"github.com/huangang/auditreport/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	cfg         *config.Config
	hub         *services.SSEHub
	taskQueue   services.TaskQueue
	worker      *services.Worker
	scheduler   *services.ReportScheduler
	maintenance *services.MaintenanceService
	cancel      context.CancelFunc

	inspectionHandler *handlers.InspectionHandler
	reportHandler     *handlers.ReportHandler
	rewriteHandler    *handlers.RewriteHandler
	promptHandler     *handlers.PromptHandler
	usageHandler      *handlers.AIUsageHandler
	sseHandler        *handlers.SSEHandler
	healthHandler     *handlers.HealthHandler
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	// Initialize database
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto migrate database
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Seed default data
	if err := models.SeedDefaultData(); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}

	db := models.GetDB()
	hub := services.GetSSEHub()

	// Generative client shared by reports and rewrites
	usageService := services.NewAIUsageService(db)
	client := services.NewGenerativeClient(
		services.NewProviderInvoker(&cfg.LLM),
		usageService,
		cfg.LLM.DefaultModel,
		cfg.LLM.Timeout(),
	)
	promptService := services.NewPromptService(db)

	// Initialize task queue (uses Redis if enabled, otherwise sync mode)
	taskQueue := services.InitTaskQueue(cfg)
	inspectionService := services.NewInspectionService(db, taskQueue)
	store := services.NewReportVersionStore(db, hub)
	reportService := services.NewReportService(store, inspectionService, taskQueue)

	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(reportService.ProcessTask)
	}

	// Start async worker if Redis is enabled
	var worker *services.Worker
	if taskQueue.IsAsync() {
		worker = services.NewWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(reportService.ProcessTask)
			if err := worker.Start(); err != nil {
				logger.Errorf("Failed to start worker: %v", err)
			}
		}
	}

	// Report scheduler: claims PENDING reports one at a time
	scheduler := services.NewReportScheduler(
		store,
		inspectionService,
		services.NewSnapshotBuilder(services.NewDirectoryService(db)),
		services.NewLLMReportGenerator(client, promptService),
		hub,
		cfg.Report.StuckTimeout(),
	)
	ctx, cancel := context.WithCancel(context.Background())
	scheduler.Start(ctx)

	// Periodic poll and usage retention
	maintenance := services.NewMaintenanceService(usageService, scheduler, cfg.Report)
	if err := maintenance.StartScheduler(); err != nil {
		logger.Errorf("Failed to start maintenance scheduler: %v", err)
	}

	handlers.RegisterMetrics(db, hub, taskQueue)

	return &appServices{
		cfg:         cfg,
		hub:         hub,
		taskQueue:   taskQueue,
		worker:      worker,
		scheduler:   scheduler,
		maintenance: maintenance,
		cancel:      cancel,

		inspectionHandler: handlers.NewInspectionHandler(inspectionService, reportService),
		reportHandler:     handlers.NewReportHandler(reportService),
		rewriteHandler:    handlers.NewRewriteHandler(services.NewTextRewriteService(client, promptService, cfg.LLM.RewriteModel)),
		promptHandler:     handlers.NewPromptHandler(promptService),
		usageHandler:      handlers.NewAIUsageHandler(usageService),
		sseHandler:        handlers.NewSSEHandler(hub),
		healthHandler:     handlers.NewHealthHandler(db, taskQueue, hub, scheduler),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.maintenance.StopScheduler()
	s.scheduler.Stop()
	s.cancel()
	logger.Info().Msg("All schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
}
