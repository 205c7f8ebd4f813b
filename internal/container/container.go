package container

import (
	"context"
	"fmt"
	"net/http"

	"go-menu-annotator/internal/analysis"
	"go-menu-annotator/internal/config"
	"go-menu-annotator/internal/detector"
	"go-menu-annotator/internal/embedding"
	"go-menu-annotator/internal/factory"
	"go-menu-annotator/internal/legibility"
	"go-menu-annotator/internal/logger"
	"go-menu-annotator/internal/observer"
	"go-menu-annotator/internal/orchestrator"
	"go-menu-annotator/internal/repository"
	"go-menu-annotator/internal/service"
	"go-menu-annotator/internal/store"
	"go-menu-annotator/internal/transport"
	"go-menu-annotator/pkg/validation"
)

// Container holds all application dependencies
type Container struct {
	config         *config.Config
	components     *factory.ComponentFactory
	captures       repository.CaptureRepository
	textDetector   detector.TextDetector
	analyzer       analysis.Analyzer
	readability    *legibility.Checker
	indexer        embedding.Indexer
	events         *observer.EventPublisher
	metrics        *observer.MetricsObserver
	sessionService service.SessionService
	handler        http.Handler
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	components := factory.NewComponentFactory(cfg)

	// Build dependency graph
	captures, err := factory.CreateCaptureRepository(cfg, components.StorageFactory)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture sources: %w", err)
	}
	textDetector, err := components.DetectorFactory.CreateDetector(ctx)
	if err != nil {
		components.Close()
		return nil, err
	}
	indexer, err := components.IndexerFactory.CreateIndexer(ctx)
	if err != nil {
		components.Close()
		return nil, err
	}
	analyzer := components.CreateAnalyzer()
	readability := legibility.NewChecker(validation.NewReadabilityValidator())

	events := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	events.Subscribe(metrics)

	timeouts := orchestrator.Timeouts{
		Capture:   cfg.ImageFetchTimeout,
		Detection: cfg.DetectionTimeout,
		Analysis:  cfg.AnalysisTimeout,
		Indexing:  cfg.EmbeddingTimeout,
	}
	limits := service.SessionLimits{
		MaxSessions: int(cfg.MaxSessions),
		IdleTTL:     cfg.SessionIdleTTL,
	}
	sessionService := service.NewSessionServiceWithLimits(captures, func(sessionID string) *orchestrator.Orchestrator {
		return orchestrator.New(sessionID, orchestrator.Dependencies{
			Captures:    captures,
			Detector:    textDetector,
			Analyzer:    analyzer,
			Readability: readability,
			Indexer:     indexer,
			Store:       store.NewAnnotationStore(cfg.TouchPadding),
			Events:      events,
		}, timeouts)
	}, limits)
	handler := transport.NewHandler(sessionService, metrics, cfg)

	return &Container{
		config:         cfg,
		components:     components,
		captures:       captures,
		textDetector:   textDetector,
		analyzer:       analyzer,
		readability:    readability,
		indexer:        indexer,
		events:         events,
		metrics:        metrics,
		sessionService: sessionService,
		handler:        handler,
	}, nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Close stops every session and releases backend connections
func (c *Container) Close() error {
	c.sessionService.Close()
	c.readability.Close()
	return c.components.Close()
}
