package retrieval

import (
	"sort"
	"strings"
	"time"

	"github.com/Kocoro-lab/answer-machine/internal/models"
)

const (
	titleWeight = 3.0
	tagWeight   = 2.0
	bodyWeight  = 1.0

	weekBonus  = 1.0
	monthBonus = 0.5

	// MinScore is the relevance an item must exceed to be kept
	MinScore = 1.0
	// TopK is the number of ranked items kept
	TopK = 10
)

// Score rates an item against keywords. Items without any keyword match score zero
// so recency alone never makes an item relevant.
func Score(item models.ContextItem, keywords []string, now time.Time) float64 {
	title := strings.ToLower(item.Title)
	body := strings.ToLower(item.Content)
	tags := make([]string, len(item.Tags))
	for i, t := range item.Tags {
		tags[i] = strings.ToLower(t)
	}

	score := 0.0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(title, kw) {
			score += titleWeight
		}
		for _, t := range tags {
			if strings.Contains(t, kw) {
				score += tagWeight
				break
			}
		}
		if strings.Contains(body, kw) {
			score += bodyWeight
		}
	}
	if score == 0 {
		return 0
	}

	age := now.Sub(item.UpdatedAt)
	switch {
	case age <= 7*24*time.Hour:
		score += weekBonus
	case age <= 30*24*time.Hour:
		score += monthBonus
	}
	return score
}

// Rank scores items, keeps those scoring above MinScore and returns the top TopK, best first
func Rank(items []models.ContextItem, keywords []string, now time.Time) []models.ContextItem {
	ranked := make([]models.ContextItem, 0, len(items))
	for _, it := range items {
		it.Score = Score(it, keywords, now)
		if it.Score > MinScore {
			ranked = append(ranked, it)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].UpdatedAt.After(ranked[j].UpdatedAt)
	})
	if len(ranked) > TopK {
		ranked = ranked[:TopK]
	}
	return ranked
}
