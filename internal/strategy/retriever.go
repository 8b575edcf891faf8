package strategy

import (
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/CalmCompanion/CalmPipe/internal/models"
)

// Scoring constants. The mix is: mood boost, category routing boost,
// author-keyword hits, and a smoothed-IDF bonus per overlapping term
// (BM25's IDF without length normalization).
const (
	moodBonus     = 2.0
	categoryBonus = 1.2
	keywordBonus  = 0.9
	termBonus     = 0.5
)

var tokenRe = regexp.MustCompile(`[a-zA-Z][a-zA-Z'-]+`)

func tokens(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

// cardDoc is one indexed card with its precomputed term sets.
type cardDoc struct {
	card     models.StrategyCard
	terms    map[string]bool
	keywords map[string]bool
	moods    map[string]bool
}

// Retriever ranks a fixed corpus snapshot. The inverted index is built
// lazily exactly once and is read-only afterward, so one Retriever is safe
// for concurrent use.
type Retriever struct {
	corpus []models.StrategyCard

	once  sync.Once
	index []*cardDoc
	df    map[string]int
	nDocs int
}

// NewRetriever creates a retriever over the given corpus snapshot. An empty
// corpus falls back to the built-in card set so retrieval keeps operating
// when the store is unavailable.
func NewRetriever(corpus []models.StrategyCard) *Retriever {
	if len(corpus) == 0 {
		slog.Info("Retriever.NewRetriever: empty corpus, using built-in fallback cards", "count", len(FallbackCards))
		corpus = FallbackCards
	}
	return &Retriever{corpus: corpus}
}

// buildIndex tokenizes label+step+why+keywords per card and tracks document
// frequency per term. Duplicate card ids are dropped, first occurrence wins.
func (r *Retriever) buildIndex() {
	r.df = make(map[string]int)
	seen := make(map[string]bool, len(r.corpus))
	for _, card := range r.corpus {
		id := card.ID
		if id == "" {
			id = card.Tag + "/" + card.Label
		}
		if seen[id] {
			slog.Warn("Retriever.buildIndex: duplicate card id, keeping first occurrence", "id", id)
			continue
		}
		seen[id] = true

		text := strings.Join([]string{card.Label, card.Step, card.Why, strings.Join(card.Keywords, " ")}, " ")
		terms := make(map[string]bool)
		for _, t := range tokens(text) {
			terms[t] = true
		}
		for t := range terms {
			r.df[t]++
		}

		doc := &cardDoc{card: card, terms: terms, keywords: toSet(card.Keywords), moods: toSet(card.Moods)}
		r.index = append(r.index, doc)
	}
	r.nDocs = len(r.index)
	slog.Debug("Retriever.buildIndex: index built", "cards", r.nDocs, "vocabulary", len(r.df))
}

// idf is BM25's IDF term with +1 smoothing and no length normalization.
func (r *Retriever) idf(term string) float64 {
	df := r.df[term]
	if df == 0 {
		df = 1
	}
	return math.Log(1 + (float64(r.nDocs)-float64(df)+0.5)/(float64(df)+0.5))
}

func (r *Retriever) score(doc *cardDoc, mood models.MoodLabel, queryTerms []string, catTags map[string]bool) float64 {
	score := 0.0
	if doc.moods[strings.ToLower(string(mood))] {
		score += moodBonus
	}
	if catTags[doc.card.Tag] {
		score += categoryBonus
	}
	for _, t := range queryTerms {
		if doc.keywords[t] {
			score += keywordBonus
		}
		if doc.terms[t] {
			score += termBonus * r.idf(t)
		}
	}
	return score
}

// Rank scores the corpus for a query and returns up to k cards with distinct
// tags, skipping the most recently suggested tag unless nothing else
// remains. Given a fixed corpus snapshot the ordering is deterministic:
// ties break by corpus order.
func (r *Retriever) Rank(userText string, mood models.MoodLabel, history []models.Message, k int) []models.StrategyCard {
	r.once.Do(r.buildIndex)
	if k <= 0 || r.nDocs == 0 {
		return nil
	}

	query := strings.ToLower(userText)
	queryTerms := tokens(query)
	catTags := routedTags(query)

	ranked := make([]*cardDoc, len(r.index))
	copy(ranked, r.index)
	scores := make(map[*cardDoc]float64, len(ranked))
	for _, doc := range ranked {
		scores[doc] = r.score(doc, mood, queryTerms, catTags)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i]] > scores[ranked[j]]
	})

	lastTag := r.lastSuggestedTag(history)

	var out []models.StrategyCard
	seenTags := make(map[string]bool)
	for _, doc := range ranked {
		if doc.card.Tag == lastTag || seenTags[doc.card.Tag] {
			continue
		}
		out = append(out, doc.card)
		seenTags[doc.card.Tag] = true
		if len(out) >= k {
			return out
		}
	}

	// List exhausted: re-admit the excluded last-suggested tag before
	// padding from the fallback set.
	if lastTag != "" && !seenTags[lastTag] {
		for _, doc := range ranked {
			if doc.card.Tag == lastTag {
				out = append(out, doc.card)
				seenTags[lastTag] = true
				break
			}
		}
	}
	for _, card := range FallbackCards {
		if len(out) >= k {
			break
		}
		if !seenTags[card.Tag] {
			out = append(out, card)
			seenTags[card.Tag] = true
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// Best returns the single top-ranked card for the query, if any.
func (r *Retriever) Best(userText string, mood models.MoodLabel, history []models.Message) (models.StrategyCard, bool) {
	ranked := r.Rank(userText, mood, history, 1)
	if len(ranked) == 0 {
		return models.StrategyCard{}, false
	}
	return ranked[0], true
}

// lastSuggestedTag scans history backward for the most recent assistant turn
// containing a card's literal step text and returns that card's tag.
func (r *Retriever) lastSuggestedTag(history []models.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != "assistant" {
			continue
		}
		content := strings.ToLower(history[i].Content)
		for _, doc := range r.index {
			if doc.card.Step != "" && strings.Contains(content, strings.ToLower(doc.card.Step)) {
				return doc.card.Tag
			}
		}
	}
	return ""
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[strings.ToLower(strings.TrimSpace(s))] = true
	}
	return set
}
