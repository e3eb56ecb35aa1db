package search

import (
	"context"

	"go.uber.org/zap"
)

// Service is the facade that tries Meilisearch first and falls back to Postgres.
type Service struct {
	meili  *Meili
	pg     *Postgres
	logger *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pg *Postgres, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: meili, pg: pg, logger: logger}
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Limit = normalizeLimit(q.Limit)
	if s.meiliReady() {
		ids, total, err := s.meili.SearchIDs(q)
		if err == nil {
			results, err := s.pg.Hydrate(ctx, q.UserID, ids, q.Text)
			if err == nil {
				return Response{Results: results, Total: total, Query: q.Text, Engine: "meilisearch"}
			}
			s.logger.Warn("search hydrate failed, falling back to sql", zap.Error(err))
		} else {
			s.logger.Warn("meilisearch error, falling back to sql", zap.Error(err))
		}
	}

	if s.pg == nil {
		return Response{Results: []Result{}, Query: q.Text, Engine: "none"}
	}
	results, total, err := s.pg.Search(ctx, q)
	if err != nil {
		s.logger.Error("sql message search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Engine: "sql"}
	}
	return Response{Results: results, Total: total, Query: q.Text, Engine: "sql"}
}

// IndexMessages pushes records to Meilisearch in the background.
func (s *Service) IndexMessages(records ...MessageRecord) {
	if !s.meiliReady() || len(records) == 0 {
		return
	}
	go func() {
		if err := s.meili.IndexMessages(records); err != nil {
			s.logger.Warn("index messages", zap.Int("count", len(records)), zap.Error(err))
		}
	}()
}

// DeleteMessages removes messages from the index in the background.
func (s *Service) DeleteMessages(ids ...string) {
	if !s.meiliReady() || len(ids) == 0 {
		return
	}
	go func() {
		for _, id := range ids {
			if err := s.meili.DeleteMessage(id); err != nil {
				s.logger.Warn("delete indexed message", zap.String("message_id", id), zap.Error(err))
			}
		}
	}()
}

// ReindexAll reindexes every message from Postgres into Meilisearch.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.meiliReady() || s.pg == nil {
		return
	}
	records, err := s.pg.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", zap.Error(err))
		return
	}
	if err := s.meili.IndexMessages(records); err != nil {
		s.logger.Warn("reindex messages", zap.Error(err))
		return
	}
	s.logger.Info("reindexed messages", zap.Int("count", len(records)))
}

func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}
