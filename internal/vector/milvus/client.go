package milvus

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/smarthome-agent/backend/pkg/logger"
)

// Client wraps the Milvus collection holding device metadata documents.
// Embeddings are unit-norm, so inner-product scores are cosine similarities.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

// DeviceDoc is a device metadata document plus its embedding, as stored in
// the collection.
type DeviceDoc struct {
	DeviceID     string
	Embedding    []float32
	Text         string
	Room         string
	DeviceType   string
	Manufacturer string
	Online       bool
}

type SearchResult struct {
	DeviceID     string
	Text         string
	Room         string
	DeviceType   string
	Manufacturer string
	Online       bool
	Score        float32
}

func NewClient(endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(
		context.Background(),
		endpoint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) CollectionName() string {
	return m.collectionName
}

// EnsureCollection creates and loads the device collection if it does not
// exist yet.
func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Smart home device metadata embeddings",
		Fields: []*entity.Field{
			{
				Name:       "device_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "text",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "2048",
				},
			},
			{
				Name:     "room",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "device_type",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "manufacturer",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "online",
				DataType: entity.FieldTypeBool,
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

// Upsert deletes any existing rows for the given device ids and inserts the
// documents, so re-indexing the same device overwrites rather than
// duplicates.
func (m *Client) Upsert(ctx context.Context, docs []DeviceDoc) error {
	if len(docs) == 0 {
		return nil
	}

	ids := make([]string, len(docs))
	embeddings := make([][]float32, len(docs))
	texts := make([]string, len(docs))
	rooms := make([]string, len(docs))
	types := make([]string, len(docs))
	manufacturers := make([]string, len(docs))
	online := make([]bool, len(docs))

	for i, doc := range docs {
		ids[i] = doc.DeviceID
		embeddings[i] = doc.Embedding
		texts[i] = doc.Text
		rooms[i] = doc.Room
		types[i] = doc.DeviceType
		manufacturers[i] = doc.Manufacturer
		online[i] = doc.Online
	}

	err := m.client.DeleteByPks(ctx, m.collectionName, "", entity.NewColumnVarChar("device_id", ids))
	if err != nil {
		return fmt.Errorf("failed to delete existing documents: %w", err)
	}

	_, err = m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("device_id", ids),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("room", rooms),
		entity.NewColumnVarChar("device_type", types),
		entity.NewColumnVarChar("manufacturer", manufacturers),
		entity.NewColumnBool("online", online),
	)

	if err != nil {
		return fmt.Errorf("failed to insert documents: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Device documents upserted", zap.Int("count", len(docs)))

	return nil
}

// Delete removes documents by device id.
func (m *Client) Delete(ctx context.Context, deviceIDs []string) error {
	if len(deviceIDs) == 0 {
		return nil
	}

	err := m.client.DeleteByPks(ctx, m.collectionName, "", entity.NewColumnVarChar("device_id", deviceIDs))
	if err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Device documents deleted", zap.Int("count", len(deviceIDs)))
	return nil
}

func (m *Client) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]SearchResult, error) {
	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		"",
		[]string{"device_id", "text", "room", "device_type", "manufacturer", "online"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			deviceID, _ := sr.Fields.GetColumn("device_id").Get(i)
			text, _ := sr.Fields.GetColumn("text").Get(i)
			room, _ := sr.Fields.GetColumn("room").Get(i)
			deviceType, _ := sr.Fields.GetColumn("device_type").Get(i)
			manufacturer, _ := sr.Fields.GetColumn("manufacturer").Get(i)
			onlineVal, _ := sr.Fields.GetColumn("online").Get(i)

			online, _ := onlineVal.(bool)

			results = append(results, SearchResult{
				DeviceID:     deviceID.(string),
				Text:         text.(string),
				Room:         room.(string),
				DeviceType:   deviceType.(string),
				Manufacturer: manufacturer.(string),
				Online:       online,
				Score:        sr.Scores[i],
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
	)

	return results, nil
}

// ListIDs returns all indexed device ids, sorted.
func (m *Client) ListIDs(ctx context.Context) ([]string, error) {
	rs, err := m.client.Query(ctx, m.collectionName, nil, `device_id != ""`, []string{"device_id"})
	if err != nil {
		return nil, fmt.Errorf("failed to list ids: %w", err)
	}

	col := rs.GetColumn("device_id")
	if col == nil {
		return nil, nil
	}

	ids := make([]string, 0, col.Len())
	for i := 0; i < col.Len(); i++ {
		v, err := col.Get(i)
		if err != nil {
			continue
		}
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Count returns the number of indexed documents.
func (m *Client) Count(ctx context.Context) (int64, error) {
	stats, err := m.client.GetCollectionStatistics(ctx, m.collectionName)
	if err != nil {
		return 0, fmt.Errorf("failed to get collection statistics: %w", err)
	}

	rowCount, ok := stats["row_count"]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(rowCount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse row count %q: %w", rowCount, err)
	}
	return n, nil
}

// Healthy reports whether the backend answers a cheap metadata call.
func (m *Client) Healthy(ctx context.Context) bool {
	_, err := m.client.HasCollection(ctx, m.collectionName)
	return err == nil
}
