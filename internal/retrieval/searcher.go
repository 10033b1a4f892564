package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/Kocoro-lab/answer-machine/internal/metrics"
	"github.com/Kocoro-lab/answer-machine/internal/models"
)

// Store provides candidate context items
type Store interface {
	SearchContextCandidates(ctx context.Context, username string, keywords []string, limit int) ([]models.ContextItem, error)
	GetContextItems(ctx context.Context, username string, ids []string) ([]models.ContextItem, error)
}

// Searcher ranks store candidates by keyword relevance
type Searcher struct {
	store          Store
	candidateLimit int
	now            func() time.Time
}

// NewSearcher creates a searcher
func NewSearcher(store Store) *Searcher {
	return &Searcher{store: store, candidateLimit: 200, now: time.Now}
}

// Search returns the top ranked items for keywords
func (s *Searcher) Search(ctx context.Context, keywords []string, username string) ([]models.ContextItem, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	candidates, err := s.store.SearchContextCandidates(ctx, username, keywords, s.candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to search context: %w", err)
	}
	ranked := Rank(candidates, keywords, s.now())
	metrics.ContextItemsRetrieved.Observe(float64(len(ranked)))
	return ranked, nil
}

// FetchByIDs loads items by id and renders them grouped by source type
func (s *Searcher) FetchByIDs(ctx context.Context, ids []string, username string) (Blocks, error) {
	items, err := s.store.GetContextItems(ctx, username, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch context: %w", err)
	}
	return Group(items), nil
}
