package factory

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go-menu-annotator/internal/analysis"
	"go-menu-annotator/internal/config"
	"go-menu-annotator/internal/detector"
	"go-menu-annotator/internal/embedding"
	"go-menu-annotator/internal/logger"
	"go-menu-annotator/internal/repository"
	"go-menu-annotator/internal/storage"
	"go-menu-annotator/pkg/validation"
)

// StorageType represents different types of capture sources
type StorageType string

const (
	// HTTPStorage for HTTP-based image fetching
	HTTPStorage StorageType = "http"
	// AzureStorage for Azure blob storage
	AzureStorage StorageType = "azure"
)

// DetectorFactory creates text detectors
type DetectorFactory interface {
	CreateDetector(ctx context.Context) (detector.TextDetector, error)
}

// StorageFactory creates capture source implementations
type StorageFactory interface {
	CreateStorage(storageType StorageType) (storage.ImageFetcher, error)
}

// IndexerFactory creates the menu item indexer
type IndexerFactory interface {
	CreateIndexer(ctx context.Context) (embedding.Indexer, error)
}

// detectorFactory implements DetectorFactory
type detectorFactory struct {
	cfg     *config.Config
	closers *closers
}

// CreateDetector builds the Tesseract detector, fronted by a Redis
// observation cache when REDIS_URL is set. An unreachable Redis only
// disables caching.
func (f *detectorFactory) CreateDetector(ctx context.Context) (detector.TextDetector, error) {
	tess, err := detector.NewTesseractDetector(f.cfg.OCRLanguages, detector.Level(f.cfg.OCRLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create text detector: %w", err)
	}
	if !detector.TesseractAvailable {
		logger.Warn("tesseract build tag not enabled; every capture will fail text detection")
	}
	var d detector.TextDetector = tess

	if f.cfg.RedisURL == "" {
		return d, nil
	}
	cache, err := detector.NewRedisObservationCache(ctx, f.cfg.RedisURL, f.cfg.ObservationCacheTTL)
	if err != nil {
		logger.WithError(err).Warn("observation cache disabled")
		return d, nil
	}
	f.closers.add(cache)
	namespace := fmt.Sprintf("%s-%s", f.cfg.OCRLevel, strings.Join(f.cfg.OCRLanguages, "+"))
	return detector.NewCachingDetector(d, cache, namespace), nil
}

// storageFactory implements StorageFactory
type storageFactory struct {
	cfg *config.Config
}

// NewStorageFactory creates a new storage factory
func NewStorageFactory(cfg *config.Config) StorageFactory {
	return &storageFactory{cfg: cfg}
}

// CreateStorage creates a storage implementation based on the specified type
func (f *storageFactory) CreateStorage(storageType StorageType) (storage.ImageFetcher, error) {
	switch storageType {
	case HTTPStorage:
		return storage.NewHTTPImageFetcher(f.cfg.ImageFetchTimeout), nil
	case AzureStorage:
		if f.cfg.AzureAccountName == "" {
			return nil, fmt.Errorf("azure storage is not configured")
		}
		return storage.NewAzureStorage(f.cfg.AzureAccountName, f.cfg.AzureAccountKey)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// CreateCaptureRepository wires every configured capture source behind one repository
func CreateCaptureRepository(cfg *config.Config, storages StorageFactory) (*repository.SourceRepository, error) {
	blobs := cfg.AzureAccountName != ""
	repo := repository.NewSourceRepository(validation.NewReferenceValidatorWithOptions(cfg.AllowedImageHosts, blobs))

	web, err := storages.CreateStorage(HTTPStorage)
	if err != nil {
		return nil, err
	}
	repo.WithSource("http", web).WithSource("https", web)

	if blobs {
		azure, err := storages.CreateStorage(AzureStorage)
		if err != nil {
			return nil, err
		}
		repo.WithSource(validation.BlobScheme, azure)
	}
	return repo, nil
}

// indexerFactory implements IndexerFactory
type indexerFactory struct {
	cfg     *config.Config
	closers *closers
}

// CreateIndexer returns a Qdrant-backed indexer, or a no-op one when
// indexing is not configured or the vector store is unreachable.
func (f *indexerFactory) CreateIndexer(ctx context.Context) (embedding.Indexer, error) {
	if !f.cfg.IndexingEnabled() {
		return embedding.NoopIndexer{}, nil
	}
	vectors, err := embedding.NewQdrantStore(ctx, f.cfg.QdrantAddress, f.cfg.QdrantCollection, uint64(f.cfg.EmbeddingDimensions))
	if err != nil {
		logger.WithError(err).Warn("menu item indexing disabled")
		return embedding.NoopIndexer{}, nil
	}
	f.closers.add(vectors)
	embedder := embedding.NewHTTPEmbedder(f.cfg.EmbeddingURL, f.cfg.EmbeddingModel, f.cfg.EmbeddingAPIKey, f.cfg.EmbeddingTimeout)
	return embedding.NewVectorIndexer(embedder, vectors), nil
}

// ComponentFactory combines all factories
type ComponentFactory struct {
	DetectorFactory DetectorFactory
	StorageFactory  StorageFactory
	IndexerFactory  IndexerFactory
	cfg             *config.Config
	closers         *closers
}

// NewComponentFactory creates a new component factory
func NewComponentFactory(cfg *config.Config) *ComponentFactory {
	shared := &closers{}
	return &ComponentFactory{
		DetectorFactory: &detectorFactory{cfg: cfg, closers: shared},
		StorageFactory:  NewStorageFactory(cfg),
		IndexerFactory:  &indexerFactory{cfg: cfg, closers: shared},
		cfg:             cfg,
		closers:         shared,
	}
}

// CreateAnalyzer creates the HTTP client for the AI analysis backend
func (f *ComponentFactory) CreateAnalyzer() analysis.Analyzer {
	return analysis.NewHTTPClient(f.cfg.AnalysisURL, f.cfg.AnalysisAPIKey, f.cfg.AnalysisTimeout)
}

// Close releases connections opened by the factories
func (f *ComponentFactory) Close() error {
	return f.closers.close()
}

type closers struct {
	list []io.Closer
}

func (c *closers) add(closer io.Closer) {
	c.list = append(c.list, closer)
}

func (c *closers) close() error {
	var first error
	for i := len(c.list) - 1; i >= 0; i-- {
		if err := c.list[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	c.list = nil
	return first
}
