package factory

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-menu-annotator/internal/config"
	"go-menu-annotator/internal/detector"
	"go-menu-annotator/internal/embedding"
	"go-menu-annotator/internal/logger"
	"go-menu-annotator/internal/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		OCRLanguages: []string{"eng"},
		OCRLevel:     "line",
		AnalysisURL:  "http://localhost:9000/analyze",
	}
}

func TestStorageFactory(t *testing.T) {
	f := NewStorageFactory(testConfig())

	web, err := f.CreateStorage(HTTPStorage)
	require.NoError(t, err)
	assert.IsType(t, &storage.HTTPImageFetcher{}, web)

	_, err = f.CreateStorage(AzureStorage)
	assert.Error(t, err, "azure needs an account")

	_, err = f.CreateStorage("local")
	assert.Error(t, err)
}

func TestCreateCaptureRepository(t *testing.T) {
	repo, err := CreateCaptureRepository(testConfig(), NewStorageFactory(testConfig()))
	require.NoError(t, err)

	assert.NoError(t, repo.ValidateReference("https://example.com/menu.jpg"))
	assert.Error(t, repo.ValidateReference("azblob://menus/menu.jpg"))
}

func TestCreateCaptureRepository_AllowedHosts(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedImageHosts = []string{"cdn.example.com"}
	repo, err := CreateCaptureRepository(cfg, NewStorageFactory(cfg))
	require.NoError(t, err)

	assert.NoError(t, repo.ValidateReference("https://cdn.example.com/menu.jpg"))
	assert.Error(t, repo.ValidateReference("https://other.example.com/menu.jpg"))
}

func TestIndexerFactory_DisabledWithoutConfig(t *testing.T) {
	f := NewComponentFactory(testConfig())

	ix, err := f.IndexerFactory.CreateIndexer(context.Background())
	require.NoError(t, err)
	assert.IsType(t, embedding.NoopIndexer{}, ix)
	assert.NoError(t, f.Close())
}

func TestDetectorFactory_WithoutRedis(t *testing.T) {
	f := NewComponentFactory(testConfig())

	d, err := f.DetectorFactory.CreateDetector(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, d)
	assert.NotNil(t, f.CreateAnalyzer())
}

func TestDetectorFactory_WarnsWithoutTesseract(t *testing.T) {
	hook := logtest.NewLocal(logger.Logger)
	defer hook.Reset()
	f := NewComponentFactory(testConfig())

	d, err := f.DetectorFactory.CreateDetector(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, d)

	warned := false
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Message == "tesseract build tag not enabled; every capture will fail text detection" {
			warned = true
		}
	}
	assert.Equal(t, !detector.TesseractAvailable, warned)
}

type closeRecorder struct {
	order *[]string
	name  string
	err   error
}

func (c closeRecorder) Close() error {
	*c.order = append(*c.order, c.name)
	return c.err
}

func TestClosers_ReverseOrderFirstError(t *testing.T) {
	var order []string
	c := &closers{}
	c.add(closeRecorder{order: &order, name: "redis", err: errors.New("redis gone")})
	c.add(closeRecorder{order: &order, name: "qdrant"})

	err := c.close()
	assert.EqualError(t, err, "redis gone")
	assert.Equal(t, []string{"qdrant", "redis"}, order)
	assert.NoError(t, c.close())
}
