package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// BlobScheme prefixes image references stored in Azure blob storage,
// e.g. azblob://uploads/2024/cat.jpg
const BlobScheme = "azblob"

type BlobStorage interface {
	GetImage(ctx context.Context, blobRef string) ([]byte, error)
}

type azureStorage struct {
	client   *azblob.Client
	maxBytes int64
}

func NewAzureStorage(accountName string, accountKey string, maxBytes int64) (BlobStorage, error) {
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

	return &azureStorage{client: client, maxBytes: maxBytes}, nil
}

// ParseBlobRef splits an azblob:// reference into container and blob name
func ParseBlobRef(blobRef string) (string, string, error) {
	parsedURL, err := url.Parse(blobRef)
	if err != nil {
		return "", "", fmt.Errorf("invalid blob reference: %w", err)
	}
	if parsedURL.Scheme != BlobScheme {
		return "", "", fmt.Errorf("blob reference must use %s:// scheme", BlobScheme)
	}

	containerName := parsedURL.Host
	blobName := strings.TrimPrefix(parsedURL.Path, "/")
	if containerName == "" || blobName == "" {
		return "", "", fmt.Errorf("blob reference needs a container and a blob name")
	}
	return containerName, blobName, nil
}

func (s *azureStorage) GetImage(ctx context.Context, blobRef string) ([]byte, error) {
	containerName, blobName, err := ParseBlobRef(blobRef)
	if err != nil {
		return nil, err
	}

	downloadResponse, err := s.client.DownloadStream(ctx, containerName, blobName, nil)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}

	retryReader := downloadResponse.Body
	defer retryReader.Close()

	data, err := io.ReadAll(io.LimitReader(retryReader, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("blob exceeds %d bytes", s.maxBytes)
	}
	return data, nil
}
