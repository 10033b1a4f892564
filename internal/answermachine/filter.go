package answermachine

import (
	"fmt"
	"strings"

	"github.com/Kocoro-lab/answer-machine/internal/models"
	"github.com/Kocoro-lab/answer-machine/internal/retrieval"
)

const (
	MinQuestions = 3
	MaxQuestions = 5

	// DuplicateThreshold is the word-set Jaccard similarity above which two questions are duplicates
	DuplicateThreshold = 0.8

	specificWordCount   = 8
	substantialQuestion = 80
)

var genericPhrases = []string{
	"what else", "can you tell me more", "anything else", "tell me more", "more details", "any other",
}

var formattingWords = map[string]struct{}{
	"format": {}, "formatting": {}, "formatted": {}, "presentation": {},
	"font": {}, "markdown": {}, "layout": {},
}

var fillerTemplates = []string{
	"Iteration %d: which recent tasks or deadlines affect the answer to the user's request?",
	"Iteration %d: which notes contain facts that support or contradict the current answer?",
	"Iteration %d: which life events give useful background for the user's situation right now?",
	"Iteration %d: what stored reference records could make the answer to the user precise?",
	"Iteration %d: what open follow-ups remain for the user once this answer is delivered?",
}

// FilterQuestions drops empty, generic, formatting-related, redundant and near-duplicate
// questions and caps the result at MaxQuestions. transcript is the conversation text the
// questions are checked against for redundancy.
func FilterQuestions(questions []string, transcript string) []string {
	transcriptWords := make(map[string]struct{})
	for _, w := range retrieval.Words(transcript) {
		transcriptWords[w] = struct{}{}
	}

	out := make([]string, 0, len(questions))
	for _, raw := range questions {
		q := strings.TrimSpace(raw)
		switch {
		case q == "":
			continue
		case isGeneric(q):
			continue
		case isAboutFormatting(q):
			continue
		case isRedundant(q, transcriptWords):
			continue
		case duplicatesAny(q, out):
			continue
		}
		out = append(out, q)
		if len(out) == MaxQuestions {
			break
		}
	}
	return out
}

// PadQuestions tops a non-empty list up to MinQuestions with iteration-numbered fillers
func PadQuestions(questions []string, iteration int) []string {
	if len(questions) == 0 || len(questions) >= MinQuestions {
		return questions
	}
	for _, tmpl := range fillerTemplates {
		if len(questions) >= MinQuestions {
			break
		}
		filler := fmt.Sprintf(tmpl, iteration)
		if duplicatesAny(filler, questions) {
			continue
		}
		questions = append(questions, filler)
	}
	return questions
}

// Fillers returns n distinct iteration-numbered filler questions
func Fillers(iteration, n int) []string {
	if n > len(fillerTemplates) {
		n = len(fillerTemplates)
	}
	out := make([]string, 0, n)
	for _, tmpl := range fillerTemplates[:n] {
		out = append(out, fmt.Sprintf(tmpl, iteration))
	}
	return out
}

// Jaccard is the word-set similarity of two questions over their content words
func Jaccard(a, b string) float64 {
	sa, sb := wordSet(a), wordSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) {
			return 1
		}
		return 0
	}
	inter := 0
	for w := range sa {
		if _, ok := sb[w]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

// Transcript joins messages into the text questions are checked against
func Transcript(msgs []models.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		if m.IsAI {
			sb.WriteString("assistant: ")
		} else {
			sb.WriteString("user: ")
		}
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

func wordSet(s string) map[string]struct{} {
	words := retrieval.ContentWords(s)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func isGeneric(q string) bool {
	if len(strings.Fields(q)) >= specificWordCount {
		return false
	}
	lower := strings.ToLower(q)
	for _, p := range genericPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func isAboutFormatting(q string) bool {
	if strings.Contains(strings.ToLower(q), "bullet point") {
		return true
	}
	for _, w := range retrieval.Words(q) {
		if _, ok := formattingWords[w]; ok {
			return true
		}
	}
	return false
}

func isRedundant(q string, transcript map[string]struct{}) bool {
	if len(q) >= substantialQuestion || len(transcript) == 0 {
		return false
	}
	keywords := retrieval.ContentWords(q)
	if len(keywords) == 0 {
		return false
	}
	for _, k := range keywords {
		if _, ok := transcript[k]; !ok {
			return false
		}
	}
	return true
}

func duplicatesAny(q string, accepted []string) bool {
	for _, a := range accepted {
		if Jaccard(q, a) > DuplicateThreshold {
			return true
		}
	}
	return false
}
