package retrieval

import (
	"fmt"
	"strings"

	"github.com/Kocoro-lab/answer-machine/internal/models"
)

const maxContentChars = 600

var sectionTitles = map[models.SourceType]string{
	models.SourceTask:      "Tasks",
	models.SourceNote:      "Notes",
	models.SourceLifeEvent: "Life Events",
	models.SourceInfoVault: "Info Vault",
}

// Blocks holds rendered item records grouped by source type
type Blocks map[models.SourceType][]string

// Group renders each item as a labeled record under its source type
func Group(items []models.ContextItem) Blocks {
	b := make(Blocks)
	for _, it := range items {
		b[it.SourceType] = append(b[it.SourceType], renderItem(it))
	}
	return b
}

// Text joins the blocks in task, note, life event, info vault order.
// Unknown source types are appended last.
func (b Blocks) Text() string {
	var sb strings.Builder
	write := func(title string, records []string) {
		if len(records) == 0 {
			return
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "## %s\n", title)
		for _, r := range records {
			sb.WriteString(r)
		}
	}
	known := make(map[models.SourceType]bool, len(models.SourceOrder))
	for _, st := range models.SourceOrder {
		known[st] = true
		write(sectionTitles[st], b[st])
	}
	for st, records := range b {
		if !known[st] {
			write(string(st), records)
		}
	}
	return sb.String()
}

// Empty reports whether no records were rendered
func (b Blocks) Empty() bool {
	for _, r := range b {
		if len(r) > 0 {
			return false
		}
	}
	return true
}

// IDs returns the ids of items in order
func IDs(items []models.ContextItem) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	return ids
}

func renderItem(it models.ContextItem) string {
	var sb strings.Builder
	title := it.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(&sb, "- Title: %s\n", title)
	if c := strings.TrimSpace(it.Content); c != "" {
		if len(c) > maxContentChars {
			c = c[:maxContentChars] + "..."
		}
		fmt.Fprintf(&sb, "  Content: %s\n", c)
	}
	if it.DueAt != nil {
		fmt.Fprintf(&sb, "  Due: %s\n", it.DueAt.Format("2006-01-02"))
	}
	if it.EventAt != nil {
		fmt.Fprintf(&sb, "  Date: %s\n", it.EventAt.Format("2006-01-02"))
	}
	if len(it.Tags) > 0 {
		fmt.Fprintf(&sb, "  Tags: %s\n", strings.Join(it.Tags, ", "))
	}
	return sb.String()
}
