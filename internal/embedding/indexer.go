package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"go-menu-annotator/pkg/models"
)

// pointNamespace scopes deterministic point IDs so re-indexing the same
// image overwrites its previous points.
var pointNamespace = uuid.MustParse("6f1c8a52-4d0e-4b8f-9a1e-2f61f3c0b7d4")

// IndexRequest describes one analysed capture.
type IndexRequest struct {
	SessionID      string
	Generation     uint64
	ImageReference string
	ImageDigest    string
	Items          []models.AnalysisItem
}

// Indexer stores analysed items for semantic search and reports how many were written.
type Indexer interface {
	Index(ctx context.Context, req IndexRequest) (int, error)
}

// NoopIndexer is used when no vector store is configured.
type NoopIndexer struct{}

func (NoopIndexer) Index(ctx context.Context, req IndexRequest) (int, error) {
	return 0, nil
}

// VectorIndexer embeds item descriptions and upserts them into a vector store.
type VectorIndexer struct {
	embedder Embedder
	store    VectorStore
}

// NewVectorIndexer creates an indexer.
func NewVectorIndexer(embedder Embedder, store VectorStore) *VectorIndexer {
	return &VectorIndexer{embedder: embedder, store: store}
}

func (ix *VectorIndexer) Index(ctx context.Context, req IndexRequest) (int, error) {
	if len(req.Items) == 0 {
		return 0, nil
	}

	texts := make([]string, len(req.Items))
	for i, item := range req.Items {
		texts[i] = ItemText(item)
	}
	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed items: %w", err)
	}
	if len(vectors) != len(req.Items) {
		return 0, fmt.Errorf("expected %d vectors, got %d", len(req.Items), len(vectors))
	}

	points := make([]Point, len(req.Items))
	for i, item := range req.Items {
		payload := map[string]interface{}{
			"session_id":        req.SessionID,
			"generation":        req.Generation,
			"image_reference":   req.ImageReference,
			"item_id":           item.ID,
			"name":              item.Name,
			"category":          item.Category,
			"estimated_cost":    item.EstimatedCost,
			"margin_percentage": item.MarginPercent,
			"ordinal":           item.Ordinal,
		}
		if item.Price != nil {
			payload["price"] = *item.Price
		}
		points[i] = Point{
			ID:      PointID(req.ImageDigest, item.ID),
			Vector:  vectors[i],
			Payload: payload,
		}
	}

	if err := ix.store.Upsert(ctx, points); err != nil {
		return 0, err
	}
	return len(points), nil
}

// ItemText is the text embedded for an item.
func ItemText(item models.AnalysisItem) string {
	parts := []string{item.Name}
	if item.Category != "" {
		parts = append(parts, item.Category)
	}
	if item.Justification != "" {
		parts = append(parts, item.Justification)
	}
	return strings.Join(parts, ". ")
}

// PointID derives a stable UUID from the image content and item.
func PointID(imageDigest, itemID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(imageDigest+"/"+itemID)).String()
}
