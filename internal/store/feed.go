package store

import (
	"context"
	"io"
)

// WorkspaceFeed adapts the asset store's change feed to consumers that only
// care about which record mutated, not what the event claims about it.
type WorkspaceFeed struct {
	store *AssetStore
}

func NewWorkspaceFeed(assetStore *AssetStore) *WorkspaceFeed {
	return &WorkspaceFeed{store: assetStore}
}

func (f *WorkspaceFeed) Subscribe(ctx context.Context, workspaceID string, onChange func(assetID string)) (io.Closer, error) {
	return f.store.Subscribe(ctx, workspaceID, func(event ChangeEvent) {
		onChange(event.AssetID)
	})
}
