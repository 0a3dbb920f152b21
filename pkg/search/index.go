// Package search maintains a full-text index over persisted verdicts so
// reviewers can find past decisions by text, flags or status. Indexing is
// asynchronous: verdicts are queued and written by background workers.
package search

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/trunet-labs/trunet/pkg/core/content"
	"github.com/trunet-labs/trunet/pkg/infrastructure/logging"
)

// IndexConfig configures the verdict index.
type IndexConfig struct {
	IndexPath string
	Workers   int
	QueueSize int
}

// DefaultIndexConfig returns a sensible default configuration.
func DefaultIndexConfig(path string) IndexConfig {
	return IndexConfig{
		IndexPath: path,
		Workers:   2,
		QueueSize: 256,
	}
}

type indexRequest struct {
	verdictID string
	doc       map[string]interface{}
}

// VerdictIndex indexes verdicts into a bleve index on disk.
type VerdictIndex struct {
	config     IndexConfig
	bleveIndex bleve.Index
	logger     *logging.Logger

	queue   chan indexRequest
	workers sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mutex   sync.RWMutex
	started bool

	indexed int64
	errors  int64
}

// NewVerdictIndex creates an index manager. Call Start before indexing.
func NewVerdictIndex(config IndexConfig, logger *logging.Logger) (*VerdictIndex, error) {
	if config.IndexPath == "" {
		return nil, fmt.Errorf("index path is required")
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if logger == nil {
		logger = logging.GetGlobalLogger().WithComponent("search")
	}

	if err := os.MkdirAll(filepath.Dir(config.IndexPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &VerdictIndex{
		config: config,
		logger: logger,
		queue:  make(chan indexRequest, config.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start opens the index and launches the indexing workers.
func (vi *VerdictIndex) Start() error {
	vi.mutex.Lock()
	defer vi.mutex.Unlock()

	if vi.started {
		return fmt.Errorf("verdict index already started")
	}

	index, err := vi.openOrCreateIndex()
	if err != nil {
		return fmt.Errorf("failed to open search index: %w", err)
	}
	vi.bleveIndex = index

	for i := 0; i < vi.config.Workers; i++ {
		vi.workers.Add(1)
		go vi.indexingWorker()
	}

	vi.started = true
	return nil
}

// Stop drains the queue and closes the index.
func (vi *VerdictIndex) Stop() error {
	vi.mutex.Lock()
	defer vi.mutex.Unlock()

	if !vi.started {
		return nil
	}

	close(vi.queue)
	vi.workers.Wait()
	vi.cancel()

	if vi.bleveIndex != nil {
		if err := vi.bleveIndex.Close(); err != nil {
			return fmt.Errorf("failed to close search index: %w", err)
		}
	}

	vi.started = false
	return nil
}

func (vi *VerdictIndex) openOrCreateIndex() (bleve.Index, error) {
	index, err := bleve.Open(vi.config.IndexPath)
	if err == nil {
		return index, nil
	}
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(vi.config.IndexPath, vi.createIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create new index: %w", err)
		}
		return index, nil
	}
	return nil, err
}

func (vi *VerdictIndex) createIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()

	verdictMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Store = true
	textField.Index = true
	textField.Analyzer = standard.Name
	verdictMapping.AddFieldMappingsAt("text", textField)

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Store = true
	keywordField.Index = true
	keywordField.Analyzer = "keyword"
	verdictMapping.AddFieldMappingsAt("recommendation", keywordField)
	verdictMapping.AddFieldMappingsAt("leak_status", keywordField)
	verdictMapping.AddFieldMappingsAt("submission_id", keywordField)

	flagsField := bleve.NewTextFieldMapping()
	flagsField.Store = true
	flagsField.Index = true
	flagsField.Analyzer = "keyword"
	verdictMapping.AddFieldMappingsAt("flags", flagsField)

	archivedField := bleve.NewBooleanFieldMapping()
	archivedField.Store = true
	verdictMapping.AddFieldMappingsAt("archived", archivedField)

	completedField := bleve.NewDateTimeFieldMapping()
	completedField.Store = true
	verdictMapping.AddFieldMappingsAt("completed_at", completedField)

	indexMapping.AddDocumentMapping("verdict", verdictMapping)
	indexMapping.DefaultType = "verdict"

	return indexMapping
}

// IndexVerdict queues a verdict for indexing. Drops the request with a
// logged error when the queue is full rather than blocking the pipeline.
func (vi *VerdictIndex) IndexVerdict(verdict *content.Verdict, textContent string) {
	// The read lock is held across the send so Stop cannot close the queue
	// underneath it.
	vi.mutex.RLock()
	defer vi.mutex.RUnlock()
	if !vi.started {
		return
	}

	doc := map[string]interface{}{
		"submission_id": verdict.SubmissionID,
		"text":          textContent,
		"archived":      verdict.Archived,
		"completed_at":  verdict.CompletedAt.Format(time.RFC3339),
		"leak_status":   string(worstLeakStatus(verdict)),
	}
	if verdict.Moderation != nil {
		doc["recommendation"] = string(verdict.Moderation.Recommendation)
		flags := make([]string, 0, len(verdict.Moderation.Flags))
		for _, f := range verdict.Moderation.Flags {
			flags = append(flags, string(f))
		}
		doc["flags"] = flags
	}

	select {
	case vi.queue <- indexRequest{verdictID: verdict.ID, doc: doc}:
	default:
		atomic.AddInt64(&vi.errors, 1)
		vi.logger.Warn("search index queue full, dropping verdict", map[string]interface{}{
			"verdict": verdict.ID,
		})
	}
}

func (vi *VerdictIndex) indexingWorker() {
	defer vi.workers.Done()

	for {
		select {
		case req, ok := <-vi.queue:
			if !ok {
				return
			}
			if err := vi.bleveIndex.Index(req.verdictID, req.doc); err != nil {
				atomic.AddInt64(&vi.errors, 1)
				vi.logger.Error("failed to index verdict", map[string]interface{}{
					"verdict": req.verdictID,
					"error":   err.Error(),
				})
				continue
			}
			atomic.AddInt64(&vi.indexed, 1)
		case <-vi.ctx.Done():
			return
		}
	}
}

// Hit is one search result.
type Hit struct {
	VerdictID string                 `json:"verdict_id"`
	Score     float64                `json:"score"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Search runs a query-string search over the indexed verdicts.
func (vi *VerdictIndex) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	vi.mutex.RLock()
	defer vi.mutex.RUnlock()
	if !vi.started {
		return nil, fmt.Errorf("verdict index not started")
	}
	if limit <= 0 {
		limit = 25
	}

	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), limit, 0, false)
	req.Fields = []string{"submission_id", "recommendation", "leak_status", "flags", "archived"}

	result, err := vi.bleveIndex.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, Hit{
			VerdictID: h.ID,
			Score:     h.Score,
			Fields:    h.Fields,
		})
	}
	return hits, nil
}

// DocCount returns the number of verdicts in the index.
func (vi *VerdictIndex) DocCount() (uint64, error) {
	vi.mutex.RLock()
	defer vi.mutex.RUnlock()
	if !vi.started {
		return 0, fmt.Errorf("verdict index not started")
	}
	return vi.bleveIndex.DocCount()
}

// Stats returns indexing counters.
func (vi *VerdictIndex) Stats() (indexed, errors int64) {
	return atomic.LoadInt64(&vi.indexed), atomic.LoadInt64(&vi.errors)
}

// worstLeakStatus returns the most severe leak status across the verdict's
// files.
func worstLeakStatus(verdict *content.Verdict) content.LeakStatus {
	worst := content.LeakClean
	for _, fv := range verdict.Files {
		if fv.LeakMatch == nil {
			continue
		}
		switch fv.LeakMatch.Status {
		case content.LeakConfirmed:
			return content.LeakConfirmed
		case content.LeakSuspected:
			worst = content.LeakSuspected
		}
	}
	return worst
}
