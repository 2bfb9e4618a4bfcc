package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smarthome-agent/backend/pkg/logger"
)

// Client caches device-document embeddings so periodic index syncs don't
// re-embed unchanged devices, and keeps rolling operational counters.
type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("embedding:%s", textHash), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	logger.Debug("Embedding cached", zap.String("text_hash", textHash))
	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("embedding:%s", textHash)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	err = json.Unmarshal(data, &embedding)
	if err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	logger.Debug("Embedding cache hit", zap.String("text_hash", textHash))
	return embedding, true, nil
}

// InvalidateEmbeddings clears all cached embeddings, e.g. after the
// embedding model changes.
func (c *Client) InvalidateEmbeddings(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "embedding:*", 0).Iterator()
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Embedding cache invalidated")
	return nil
}

const embeddingModelKey = "embedding:model"

// EnsureEmbeddingModel records which embedding model produced the cached
// vectors. When the configured model differs from the recorded one the
// cache is cleared; vectors from different models are not comparable.
func (c *Client) EnsureEmbeddingModel(ctx context.Context, model string) error {
	stored, err := c.client.Get(ctx, embeddingModelKey).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read embedding model marker: %w", err)
	}

	if stored != model {
		if stored != "" {
			logger.Info("Embedding model changed, clearing cache",
				zap.String("previous", stored),
				zap.String("current", model))
			if err := c.InvalidateEmbeddings(ctx); err != nil {
				return err
			}
		}
		if err := c.client.Set(ctx, embeddingModelKey, model, 0).Err(); err != nil {
			return fmt.Errorf("failed to record embedding model: %w", err)
		}
	}

	return nil
}
