package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/framelight/api/internal/client"
	"github.com/framelight/api/internal/model"
	"github.com/framelight/api/internal/upload"
)

var supportedMediaTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"image/heic":      true,
	"image/tiff":      true,
	"video/mp4":       true,
	"video/quicktime": true,
	"video/webm":      true,
}

type assetCreator interface {
	CreateAsset(ctx context.Context, asset *model.Asset) error
}

// AssetUploader uploads one file's bytes to object storage and creates the
// corresponding asset record. It implements upload.Uploader.
type AssetUploader struct {
	storage     client.StorageClient
	assets      assetCreator
	maxFileSize int64
}

func NewAssetUploader(storage client.StorageClient, assets assetCreator, maxFileSize int64) *AssetUploader {
	return &AssetUploader{
		storage:     storage,
		assets:      assets,
		maxFileSize: maxFileSize,
	}
}

// UploadAsset validates the file, streams it to storage with progress
// reporting, then records the asset as pending classification.
func (u *AssetUploader) UploadAsset(ctx context.Context, workspaceID string, file upload.File, onProgress func(percent int)) (*model.UploadResult, error) {
	if u.maxFileSize > 0 && file.Size > u.maxFileSize {
		return nil, upload.ErrFileTooLarge
	}
	if !supportedMediaTypes[file.ContentType] {
		return nil, fmt.Errorf("%w: %s", upload.ErrUnsupportedType, file.ContentType)
	}

	assetID := uuid.New().String()
	key := fmt.Sprintf("assets/%s/%s/%s", workspaceID, assetID, file.Name)

	body, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer body.Close()

	var storageURL string
	if u.storage == nil {
		// Mock storage for development/testing
		storageURL = fmt.Sprintf("https://cdn.framelight.io/%s", key)
		if onProgress != nil {
			onProgress(100)
		}
	} else {
		storageURL, err = u.storage.UploadWithProgress(ctx, key, body, file.Size, file.ContentType, onProgress)
		if err != nil {
			return nil, fmt.Errorf("failed to upload %q: %w", file.Name, err)
		}
	}

	asset := &model.Asset{
		ID:          assetID,
		WorkspaceID: workspaceID,
		Filename:    file.Name,
		ContentType: file.ContentType,
		Size:        file.Size,
		StorageURL:  storageURL,
		TagStatus:   model.TagStatusPending,
	}
	if err := u.assets.CreateAsset(ctx, asset); err != nil {
		return nil, fmt.Errorf("failed to record asset %q: %w", file.Name, err)
	}

	return &model.UploadResult{
		AssetID:    assetID,
		StorageURL: storageURL,
	}, nil
}
