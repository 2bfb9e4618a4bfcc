package semantic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smarthome-agent/backend/internal/devices"
	"github.com/smarthome-agent/backend/internal/metrics"
	"github.com/smarthome-agent/backend/internal/vector/milvus"
	"github.com/smarthome-agent/backend/pkg/logger"
)

// ErrNotInitialized is returned by every index operation attempted before a
// successful Initialize. The caller fails fast instead of racing collection
// creation.
var ErrNotInitialized = errors.New("semantic index not initialized")

// vectorStore is the slice of the Milvus client the index needs.
type vectorStore interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, docs []milvus.DeviceDoc) error
	Delete(ctx context.Context, deviceIDs []string) error
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]milvus.SearchResult, error)
	ListIDs(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int64, error)
	Healthy(ctx context.Context) bool
	CollectionName() string
}

// embedder produces embeddings for documents and queries.
type embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	EmbeddingModel() string
}

// embeddingCache serves previously computed embeddings keyed by content
// hash. Optional; a nil cache means every sync re-embeds changed documents.
type embeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

// deviceLister supplies the current device inventory for sync.
type deviceLister interface {
	List() []devices.Device
}

// SearchHit is a device matched by semantic search, ranked by similarity.
type SearchHit struct {
	DeviceID     string  `json:"device_id"`
	Text         string  `json:"text"`
	Room         string  `json:"room"`
	Type         string  `json:"type"`
	Manufacturer string  `json:"manufacturer"`
	Online       bool    `json:"online"`
	Similarity   float64 `json:"similarity"`
}

// SyncResult summarizes one reconciliation pass against the registry.
type SyncResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
}

// Stats is a point-in-time snapshot of the index.
type Stats struct {
	TotalDevices   int64     `json:"total_devices"`
	CollectionName string    `json:"collection_name"`
	EmbeddingModel string    `json:"embedding_model"`
	Healthy        bool      `json:"healthy"`
	LastSync       time.Time `json:"last_sync,omitempty"`
}

// Index maintains device metadata documents in the vector store and serves
// similarity search over them.
type Index struct {
	store    vectorStore
	embedder embedder
	cache    embeddingCache
	registry deviceLister

	minSimilarity float64
	embeddingTTL  time.Duration
	syncInterval  time.Duration

	mu          sync.Mutex
	initialized bool
	hashes      map[string]string // deviceID -> last indexed content hash
	lastSync    time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewIndex wires an index over the given store and embedder. cache may be
// nil.
func NewIndex(store vectorStore, emb embedder, cache embeddingCache, reg deviceLister, minSimilarity float64, embeddingTTL, syncInterval time.Duration) *Index {
	return &Index{
		store:         store,
		embedder:      emb,
		cache:         cache,
		registry:      reg,
		minSimilarity: minSimilarity,
		embeddingTTL:  embeddingTTL,
		syncInterval:  syncInterval,
		hashes:        make(map[string]string),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// modelAwareCache is implemented by caches that track which embedding
// model produced their entries.
type modelAwareCache interface {
	EnsureEmbeddingModel(ctx context.Context, model string) error
}

// Initialize ensures the backing collection exists and loads the set of
// already-indexed device IDs so the first sync can reconcile against it.
// Caches that track the embedding model are reconciled against the
// configured one first, so a model swap cannot serve stale vectors.
func (i *Index) Initialize(ctx context.Context) error {
	if mc, ok := i.cache.(modelAwareCache); ok {
		if err := mc.EnsureEmbeddingModel(ctx, i.embedder.EmbeddingModel()); err != nil {
			logger.Log.Warn("embedding cache model check failed", zap.Error(err))
		}
	}

	if err := i.store.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensuring collection: %w", err)
	}

	ids, err := i.store.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing indexed devices: %w", err)
	}

	i.mu.Lock()
	for _, id := range ids {
		// Hash unknown until the next sync re-derives it; empty forces
		// a refresh of pre-existing rows.
		if _, ok := i.hashes[id]; !ok {
			i.hashes[id] = ""
		}
	}
	i.initialized = true
	i.mu.Unlock()

	logger.Log.Info("semantic index initialized",
		zap.String("collection", i.store.CollectionName()),
		zap.Int("existing_devices", len(ids)))
	return nil
}

// IndexDevices embeds and upserts the given devices. Re-indexing the same
// device replaces its document.
func (i *Index) IndexDevices(ctx context.Context, list []devices.Device) error {
	if !i.isInitialized() {
		return ErrNotInitialized
	}
	if len(list) == 0 {
		return nil
	}

	docs := make([]Document, len(list))
	for idx, d := range list {
		docs[idx] = DocumentFromDevice(d)
	}
	return i.upsertDocuments(ctx, docs)
}

// RemoveDevices drops the given devices from the index. Unknown IDs are
// ignored.
func (i *Index) RemoveDevices(ctx context.Context, deviceIDs []string) error {
	if !i.isInitialized() {
		return ErrNotInitialized
	}
	if len(deviceIDs) == 0 {
		return nil
	}
	if err := i.store.Delete(ctx, deviceIDs); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	i.mu.Lock()
	for _, id := range deviceIDs {
		delete(i.hashes, id)
	}
	i.mu.Unlock()
	return nil
}

// SyncWithRegistry reconciles the index with the registry's current
// inventory: new devices are added, changed documents re-embedded, and
// devices gone from the registry removed.
func (i *Index) SyncWithRegistry(ctx context.Context) (SyncResult, error) {
	if !i.isInitialized() {
		return SyncResult{}, ErrNotInitialized
	}

	current := i.registry.List()

	var result SyncResult
	var toUpsert []Document

	i.mu.Lock()
	seen := make(map[string]struct{}, len(current))
	for _, d := range current {
		doc := DocumentFromDevice(d)
		seen[d.ID] = struct{}{}
		prev, indexed := i.hashes[d.ID]
		switch {
		case !indexed:
			result.Added++
			toUpsert = append(toUpsert, doc)
		case prev != doc.ContentHash():
			result.Updated++
			toUpsert = append(toUpsert, doc)
		}
	}
	var toRemove []string
	for id := range i.hashes {
		if _, ok := seen[id]; !ok {
			toRemove = append(toRemove, id)
		}
	}
	i.mu.Unlock()

	if len(toUpsert) > 0 {
		if err := i.upsertDocuments(ctx, toUpsert); err != nil {
			return result, err
		}
	}
	if len(toRemove) > 0 {
		if err := i.RemoveDevices(ctx, toRemove); err != nil {
			return result, err
		}
		result.Removed = len(toRemove)
	}

	i.mu.Lock()
	i.lastSync = time.Now()
	i.mu.Unlock()

	metrics.IndexSyncChanges.WithLabelValues("added").Add(float64(result.Added))
	metrics.IndexSyncChanges.WithLabelValues("updated").Add(float64(result.Updated))
	metrics.IndexSyncChanges.WithLabelValues("removed").Add(float64(result.Removed))
	i.mu.Lock()
	metrics.IndexedDevices.Set(float64(len(i.hashes)))
	i.mu.Unlock()

	if result.Added+result.Updated+result.Removed > 0 {
		logger.Log.Info("semantic index synced",
			zap.Int("added", result.Added),
			zap.Int("updated", result.Updated),
			zap.Int("removed", result.Removed))
	}
	return result, nil
}

// StartPeriodicSync runs SyncWithRegistry on the configured interval until
// StopPeriodicSync is called. Sync failures are logged, not fatal; the next
// tick retries.
func (i *Index) StartPeriodicSync(ctx context.Context) {
	go func() {
		defer close(i.done)
		ticker := time.NewTicker(i.syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := i.SyncWithRegistry(ctx); err != nil {
					logger.Log.Warn("periodic sync failed", zap.Error(err))
				}
			case <-i.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopPeriodicSync stops the background sync loop. Safe to call more than
// once.
func (i *Index) StopPeriodicSync() {
	i.stopOnce.Do(func() { close(i.stop) })
}

// SearchOptions tune a single search. Zero values fall back to the index
// defaults.
type SearchOptions struct {
	Limit         int
	MinSimilarity float64
}

// SearchDevices embeds the query and returns hits at or above the similarity
// threshold, ranked by similarity descending with ties broken by device ID.
func (i *Index) SearchDevices(ctx context.Context, query string, opts SearchOptions) ([]SearchHit, error) {
	if !i.isInitialized() {
		return nil, ErrNotInitialized
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	threshold := opts.MinSimilarity
	if threshold <= 0 {
		threshold = i.minSimilarity
	}

	embedding, err := i.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	raw, err := i.store.Search(ctx, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("searching collection: %w", err)
	}

	hits := make([]SearchHit, 0, len(raw))
	for _, r := range raw {
		sim := clampSimilarity(float64(r.Score))
		if sim < threshold {
			continue
		}
		hits = append(hits, SearchHit{
			DeviceID:     r.DeviceID,
			Text:         r.Text,
			Room:         r.Room,
			Type:         r.DeviceType,
			Manufacturer: r.Manufacturer,
			Online:       r.Online,
			Similarity:   sim,
		})
	}

	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Similarity != hits[b].Similarity {
			return hits[a].Similarity > hits[b].Similarity
		}
		return hits[a].DeviceID < hits[b].DeviceID
	})
	return hits, nil
}

// Stats reports index size and health. Store errors degrade to zero counts
// rather than failing the call.
func (i *Index) Stats(ctx context.Context) Stats {
	i.mu.Lock()
	lastSync := i.lastSync
	initialized := i.initialized
	i.mu.Unlock()

	s := Stats{
		CollectionName: i.store.CollectionName(),
		EmbeddingModel: i.embedder.EmbeddingModel(),
		LastSync:       lastSync,
	}
	if !initialized {
		return s
	}
	s.Healthy = i.store.Healthy(ctx)
	if count, err := i.store.Count(ctx); err == nil {
		s.TotalDevices = count
	} else {
		logger.Log.Warn("counting indexed devices failed", zap.Error(err))
	}
	return s
}

func (i *Index) isInitialized() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.initialized
}

// upsertDocuments embeds (cache first) and writes the documents, then
// records their content hashes.
func (i *Index) upsertDocuments(ctx context.Context, docs []Document) error {
	embeddings := make([][]float32, len(docs))
	var missing []int

	if i.cache != nil {
		for idx, doc := range docs {
			emb, ok, err := i.cache.GetEmbedding(ctx, doc.ContentHash())
			if err != nil {
				logger.Log.Warn("embedding cache read failed", zap.Error(err))
			}
			if ok {
				metrics.CacheHits.WithLabelValues("embedding").Inc()
				embeddings[idx] = emb
			} else {
				metrics.CacheMisses.WithLabelValues("embedding").Inc()
				missing = append(missing, idx)
			}
		}
	} else {
		for idx := range docs {
			missing = append(missing, idx)
		}
	}

	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for n, idx := range missing {
			texts[n] = docs[idx].Text
		}
		fresh, err := i.embedder.GenerateBatchEmbeddings(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding documents: %w", err)
		}
		if len(fresh) != len(missing) {
			return fmt.Errorf("embedding count mismatch: got %d, want %d", len(fresh), len(missing))
		}
		for n, idx := range missing {
			normalize(fresh[n])
			embeddings[idx] = fresh[n]
			if i.cache != nil {
				if err := i.cache.SetEmbedding(ctx, docs[idx].ContentHash(), fresh[n], i.embeddingTTL); err != nil {
					logger.Log.Warn("embedding cache write failed", zap.Error(err))
				}
			}
		}
	}

	storeDocs := make([]milvus.DeviceDoc, len(docs))
	for idx, doc := range docs {
		storeDocs[idx] = milvus.DeviceDoc{
			DeviceID:     doc.DeviceID,
			Embedding:    embeddings[idx],
			Text:         doc.Text,
			Room:         doc.Room,
			DeviceType:   doc.Type,
			Manufacturer: doc.Manufacturer,
			Online:       doc.Online,
		}
	}
	if err := i.store.Upsert(ctx, storeDocs); err != nil {
		return fmt.Errorf("upserting documents: %w", err)
	}

	i.mu.Lock()
	for _, doc := range docs {
		i.hashes[doc.DeviceID] = doc.ContentHash()
	}
	i.mu.Unlock()
	return nil
}

// normalize scales v to unit length in place so inner-product scores are
// cosine similarities. Zero vectors are left untouched.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for idx := range v {
		v[idx] /= norm
	}
}

func clampSimilarity(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
