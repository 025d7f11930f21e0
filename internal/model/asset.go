package model

import "time"

// Asset is the record-store representation of an uploaded item.
type Asset struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	StorageURL  string    `json:"storageUrl"`
	TagStatus   TagStatus `json:"tagStatus"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// AssetRef identifies one uploaded item submitted for classification.
type AssetRef struct {
	AssetID    string `json:"assetId"`
	StorageURL string `json:"storageUrl"`
}
