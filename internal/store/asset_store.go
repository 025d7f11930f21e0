package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/framelight/api/internal/model"
)

const assetTTL = 0 // asset records do not expire

// ChangeEvent is published to the workspace channel whenever an asset record
// mutates. Consumers must treat it as a trigger only: the payload may lag the
// record and is never authoritative.
type ChangeEvent struct {
	AssetID     string          `json:"assetId"`
	WorkspaceID string          `json:"workspaceId"`
	TagStatus   model.TagStatus `json:"tagStatus"`
}

// Subscription is a handle to a workspace change feed.
type Subscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
}

// Close tears down the subscription and its receive loop.
func (s *Subscription) Close() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	return s.pubsub.Close()
}

// AssetStore persists asset records in Redis and publishes change events
// on a per-workspace Pub/Sub channel.
type AssetStore struct {
	redis *redis.Client
}

func NewAssetStore(redisClient *redis.Client) *AssetStore {
	return &AssetStore{redis: redisClient}
}

func assetKey(id string) string {
	return fmt.Sprintf("asset:%s", id)
}

func workspaceChannel(workspaceID string) string {
	return fmt.Sprintf("workspace:%s:assets", workspaceID)
}

// CreateAsset saves a new asset record and announces it on the workspace channel.
func (s *AssetStore) CreateAsset(ctx context.Context, asset *model.Asset) error {
	asset.CreatedAt = time.Now()
	asset.UpdatedAt = asset.CreatedAt
	if err := s.saveAsset(ctx, asset); err != nil {
		return fmt.Errorf("failed to save asset: %w", err)
	}
	s.publishChange(ctx, asset)
	return nil
}

// GetAssets performs a batched point lookup. Missing IDs are skipped, not errors:
// another session may have deleted a record mid-poll.
func (s *AssetStore) GetAssets(ctx context.Context, ids []string) ([]model.Asset, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, assetKey(id))
	}

	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read assets: %w", err)
	}

	assets := make([]model.Asset, 0, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		var asset model.Asset
		if err := json.Unmarshal([]byte(str), &asset); err != nil {
			log.Printf("Skipping malformed asset record %s: %v", ids[i], err)
			continue
		}
		assets = append(assets, asset)
	}

	return assets, nil
}

// UpdateTagging transitions an asset's classification status, replacing its tag
// set, and announces the change.
func (s *AssetStore) UpdateTagging(ctx context.Context, assetID string, status model.TagStatus, tags []string) (*model.Asset, error) {
	asset, err := s.getAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}

	asset.TagStatus = status
	asset.Tags = tags
	asset.UpdatedAt = time.Now()

	if err := s.saveAsset(ctx, asset); err != nil {
		return nil, fmt.Errorf("failed to update asset: %w", err)
	}
	s.publishChange(ctx, asset)
	return asset, nil
}

// Subscribe attaches to a workspace's change feed. Decoded events are handed to
// onChange from a dedicated goroutine until the subscription is closed.
func (s *AssetStore) Subscribe(ctx context.Context, workspaceID string, onChange func(ChangeEvent)) (*Subscription, error) {
	pubsub := s.redis.Subscribe(ctx, workspaceChannel(workspaceID))

	// Force the subscription to be established before returning so a failed
	// setup is visible to the caller rather than silently dropped.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to workspace feed: %w", err)
	}

	sub := &Subscription{
		pubsub: pubsub,
		done:   make(chan struct{}),
	}

	ch := pubsub.Channel()
	go func() {
		for {
			select {
			case <-sub.done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Printf("Skipping malformed change event: %v", err)
					continue
				}
				onChange(event)
			}
		}
	}()

	return sub, nil
}

func (s *AssetStore) saveAsset(ctx context.Context, asset *model.Asset) error {
	data, err := json.Marshal(asset)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, assetKey(asset.ID), data, assetTTL).Err()
}

func (s *AssetStore) getAsset(ctx context.Context, assetID string) (*model.Asset, error) {
	data, err := s.redis.Get(ctx, assetKey(assetID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("asset not found")
		}
		return nil, err
	}

	var asset model.Asset
	if err := json.Unmarshal(data, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

func (s *AssetStore) publishChange(ctx context.Context, asset *model.Asset) {
	event := ChangeEvent{
		AssetID:     asset.ID,
		WorkspaceID: asset.WorkspaceID,
		TagStatus:   asset.TagStatus,
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Failed to marshal change event: %v", err)
		return
	}
	if err := s.redis.Publish(ctx, workspaceChannel(asset.WorkspaceID), data).Err(); err != nil {
		log.Printf("Failed to publish change event for %s: %v", asset.ID, err)
	}
}
