package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const idxMessages = "aiva_messages"

// Meili indexes messages in Meilisearch. Hits only carry ids; Postgres hydrates them.
type Meili struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxMessages, PrimaryKey: "id"}); err != nil {
		m.logger.Debug("create index (may already exist)", zap.String("index", idxMessages), zap.Error(err))
	}

	index := m.client.Index(idxMessages)
	filterable := []interface{}{"userId", "workspaceId", "chatId", "role"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", zap.Error(err))
	}
	searchable := []string{"content"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", zap.Error(err))
	}
	sortable := []string{"createdAt"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		m.logger.Warn("update sortable attributes", zap.Error(err))
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
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// SearchIDs returns matching message ids in relevance order and the estimated total.
func (m *Meili) SearchIDs(q Query) ([]string, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:             idxMessages,
			Query:                q.Text,
			Limit:                int64(normalizeLimit(q.Limit)),
			Offset:               int64(q.Offset),
			Filter:               visibilityFilter(q),
			AttributesToRetrieve: []string{"id"},
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	ids := make([]string, 0)
	total := 0
	for _, result := range resp.Results {
		total += int(result.EstimatedTotalHits)
		for _, hit := range result.Hits {
			if id := decodeString(hit, "id"); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, total, nil
}

func visibilityFilter(q Query) string {
	visible := []string{fmt.Sprintf("userId = %s", quote(q.UserID))}
	if len(q.MemberOf) > 0 {
		quoted := make([]string, len(q.MemberOf))
		for i, id := range q.MemberOf {
			quoted[i] = quote(id)
		}
		visible = append(visible, fmt.Sprintf("workspaceId IN [%s]", strings.Join(quoted, ", ")))
	}
	filter := "(" + strings.Join(visible, " OR ") + ")"
	if q.WorkspaceID != "" {
		filter += fmt.Sprintf(" AND workspaceId = %s", quote(q.WorkspaceID))
	}
	return filter
}

func quote(value string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value) + `"`
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func (m *Meili) IndexMessages(records []MessageRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxMessages).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteMessage(id string) error {
	_, err := m.client.Index(idxMessages).DeleteDocument(id, nil)
	return err
}
