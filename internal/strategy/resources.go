package strategy

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/CalmCompanion/CalmPipe/internal/models"
)

// FallbackResources is the built-in curated catalog of external self-help
// resources, used when no catalog is supplied.
var FallbackResources = []models.ResourceCard{
	{
		ID: "article.nhs_breathing", Kind: "article",
		Title:    "Breathing exercises for stress",
		Creator:  "NHS",
		URL:      "https://www.nhs.uk/mental-health/self-help/guides-tools-and-activities/breathing-exercises-for-stress/",
		Keywords: []string{"anxiety", "panic", "breath", "stress", "stressed", "calm"},
		Moods:    []string{"distress", "anger"},
	},
	{
		ID: "article.sleep_hygiene", Kind: "article",
		Title:    "Healthy sleep tips",
		Creator:  "Sleep Foundation",
		URL:      "https://www.sleepfoundation.org/sleep-hygiene",
		Keywords: []string{"sleep", "insomnia", "tired", "rest", "night"},
		Moods:    []string{"sadness", "neutral"},
	},
	{
		ID: "article.spaced_practice", Kind: "article",
		Title:    "Spaced practice: a guide for students",
		Creator:  "The Learning Scientists",
		URL:      "https://www.learningscientists.org/spaced-practice",
		Keywords: []string{"exam", "study", "finals", "focus", "assignment", "deadline"},
		Moods:    []string{"neutral", "distress", "optimism"},
	},
	{
		ID: "video.grounding_54321", Kind: "video",
		Title:    "5-4-3-2-1: a grounding walkthrough",
		Creator:  "Therapist Aid",
		URL:      "https://www.therapistaid.com/therapy-video/grounding-exercise",
		Keywords: []string{"ground", "panic", "overthink", "present", "anxious"},
		Moods:    []string{"distress"},
	},
	{
		ID: "article.mind_anger", Kind: "article",
		Title:    "Managing anger",
		Creator:  "Mind",
		URL:      "https://www.mind.org.uk/information-support/types-of-mental-health-problems/anger/",
		Keywords: []string{"angry", "anger", "argument", "frustrated", "rage"},
		Moods:    []string{"anger"},
	},
	{
		ID: "article.mind_loneliness", Kind: "article",
		Title:    "Coping with loneliness",
		Creator:  "Mind",
		URL:      "https://www.mind.org.uk/information-support/tips-for-everyday-living/loneliness/",
		Keywords: []string{"lonely", "alone", "isolated", "disconnected"},
		Moods:    []string{"sadness"},
	},
	{
		ID: "book.feeling_good", Kind: "book",
		Title:    "Feeling Good: The New Mood Therapy",
		Creator:  "David D. Burns",
		Keywords: []string{"sad", "mood", "thoughts", "negative", "down"},
		Moods:    []string{"sadness"},
		Caution:  "Self-help reading supports, but does not replace, professional care.",
	},
}

// ResourceFinder ranks the curated resource catalog for a user turn. Like
// the card retriever it treats the catalog as a read-only snapshot, so one
// instance is safe for concurrent use.
type ResourceFinder struct {
	catalog []models.ResourceCard
}

// NewResourceFinder creates a finder over the given catalog snapshot. An
// empty catalog falls back to the built-in set.
func NewResourceFinder(catalog []models.ResourceCard) *ResourceFinder {
	if len(catalog) == 0 {
		catalog = FallbackResources
	}
	return &ResourceFinder{catalog: catalog}
}

// Suggest returns up to k resources with at least one keyword hit, best
// first. Mood agreement boosts the score but never qualifies a resource on
// its own. Ties break by catalog order, so the ranking is deterministic.
func (f *ResourceFinder) Suggest(userText string, mood models.MoodLabel, k int) []models.ResourceCard {
	if k <= 0 {
		return nil
	}
	terms := make(map[string]bool)
	for _, t := range tokens(userText) {
		terms[t] = true
	}
	m := strings.ToLower(string(mood))

	type scoredResource struct {
		res   models.ResourceCard
		score float64
	}
	var ranked []scoredResource
	for _, res := range f.catalog {
		hits := 0
		for _, kw := range res.Keywords {
			if terms[strings.ToLower(kw)] {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		score := keywordBonus * float64(hits)
		if toSet(res.Moods)[m] {
			score += moodBonus
		}
		ranked = append(ranked, scoredResource{res: res, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]models.ResourceCard, 0, len(ranked))
	for _, sr := range ranked {
		out = append(out, sr.res)
	}
	slog.Debug("ResourceFinder.Suggest: ranked resources", "candidates", len(terms), "returned", len(out))
	return out
}
