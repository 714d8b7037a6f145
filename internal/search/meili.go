package search

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
)

const idxDocuments = "archivum_documents"

// Meili implements Indexer via Meilisearch, with a background health
// monitor. While unhealthy every operation fails fast, and the job queue
// takes care of redelivery.
type Meili struct {
	client  meili.ServiceManager
	logger  zerolog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the document
// index. An unreachable server is tolerated: the instance starts
// unhealthy and recovers when the health loop sees the server again.
func NewMeili(url, apiKey string, logger zerolog.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		logger.Warn().Str("url", url).Err(err).Msg("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxDocuments,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug().Err(err).Msg("create index (may already exist)")
	}

	index := m.client.Index(idxDocuments)
	filterable := []interface{}{"serverState", "type", "language", "year"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn().Err(err).Msg("update filterable attributes")
	}
	searchable := []string{"titles", "authors", "series", "collections"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn().Err(err).Msg("update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) IndexDocument(record DocumentRecord) error {
	if !m.Healthy() {
		return fmt.Errorf("meilisearch unhealthy")
	}
	if _, err := m.client.Index(idxDocuments).AddDocuments([]DocumentRecord{record}, nil); err != nil {
		return fmt.Errorf("index document %d: %w", record.ID, err)
	}
	return nil
}

func (m *Meili) DeleteDocument(id int64) error {
	if !m.Healthy() {
		return fmt.Errorf("meilisearch unhealthy")
	}
	if _, err := m.client.Index(idxDocuments).DeleteDocument(strconv.FormatInt(id, 10), nil); err != nil {
		return fmt.Errorf("delete document %d from index: %w", id, err)
	}
	return nil
}
