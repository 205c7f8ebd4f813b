package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"go-menu-annotator/pkg/models"
)

// AzureScheme prefixes blob references: azblob://<container>/<blob path>
const AzureScheme = "azblob"

type azureStorage struct {
	client *azblob.Client
}

// NewAzureStorage creates a fetcher for blobs in the given storage account
func NewAzureStorage(accountName string, accountKey string) (ImageFetcher, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid azure credentials: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure client: %w", err)
	}

	return &azureStorage{client: client}, nil
}

// ParseBlobReference splits azblob://container/path/to/blob into its parts
func ParseBlobReference(reference string) (container, blob string, err error) {
	parsed, err := url.Parse(reference)
	if err != nil {
		return "", "", fmt.Errorf("invalid blob reference: %w", err)
	}
	if parsed.Scheme != AzureScheme {
		return "", "", fmt.Errorf("unsupported blob scheme %q", parsed.Scheme)
	}
	container = parsed.Host
	blob = strings.TrimPrefix(parsed.Path, "/")
	if container == "" || blob == "" {
		return "", "", fmt.Errorf("blob reference must name a container and a blob: %q", reference)
	}
	return container, blob, nil
}

func (s *azureStorage) FetchImage(ctx context.Context, reference string) (models.CapturedImage, error) {
	container, blob, err := ParseBlobReference(reference)
	if err != nil {
		return models.CapturedImage{}, err
	}

	downloadResponse, err := s.client.DownloadStream(ctx, container, blob, nil)
	if err != nil {
		return models.CapturedImage{}, fmt.Errorf("download failed: %w", err)
	}

	retryReader := downloadResponse.Body
	defer retryReader.Close()

	data, err := io.ReadAll(io.LimitReader(retryReader, MaxImageBytes+1))
	if err != nil {
		return models.CapturedImage{}, fmt.Errorf("failed to read blob: %w", err)
	}
	if len(data) > MaxImageBytes {
		return models.CapturedImage{}, fmt.Errorf("image exceeds %d bytes", MaxImageBytes)
	}
	return decodeCaptured(reference, data)
}
