// Package strategy ranks a curated corpus of coping-action cards for a user
// turn using a BM25-lite term-overlap score with mood and category boosts.
package strategy

import (
	"regexp"

	"github.com/CalmCompanion/CalmPipe/internal/models"
)

// FallbackCards is the built-in card set, used when the corpus store is
// empty or unavailable, and to pad short result lists. The retriever must
// keep functioning on this set alone.
var FallbackCards = []models.StrategyCard{
	{
		ID: "breathing.box_60s", Tag: "breathing", Label: "Box Breathing (1 min)",
		Step:     "Inhale 4, hold 4, exhale 4, hold 4 - repeat 4 times.",
		Why:      "Paced breathing lowers arousal and steadies attention.",
		Keywords: []string{"anxiety", "panic", "breath", "inhale", "exhale", "calm"},
		Moods:    []string{"distress", "anger", "sadness", "neutral"},
		SourceName: "NHS",
		SourceURL:  "https://www.nhs.uk/mental-health/self-help/guides-tools-and-activities/breathing-exercises-for-stress/",
	},
	{
		ID: "grounding.54321", Tag: "grounding", Label: "5-4-3-2-1 Grounding",
		Step:     "Name 5 things you see, 4 you can touch, 3 you hear, 2 you smell, 1 you taste.",
		Why:      "Shifting attention to the senses interrupts spiraling thoughts.",
		Keywords: []string{"ground", "present", "overthink", "panic", "dissociate"},
		Moods:    []string{"distress", "sadness", "neutral"},
	},
	{
		ID: "hydrate.water_reset", Tag: "hydrate", Label: "Hydration reset",
		Step:     "Drink a glass of water and notice the temperature for a few sips.",
		Keywords: []string{"hydrate", "water", "tired", "headache"},
		Moods:    []string{"sadness", "neutral"},
	},
	{
		ID: "stretch.shoulder_release", Tag: "stretch", Label: "Shoulder release",
		Step:     "Unclench your jaw and roll your shoulders slowly for 60 seconds.",
		Keywords: []string{"tense", "tight", "jaw", "shoulder", "anger"},
		Moods:    []string{"anger", "distress", "neutral"},
	},
	{
		ID: "microtask.two_minute_start", Tag: "microtask", Label: "2-minute start",
		Step:     "Pick a 2-minute task and start it badly - momentum matters.",
		Why:      "Starting small sidesteps the pressure of doing it well.",
		Keywords: []string{"stuck", "procrastinate", "motivation", "start", "avoid"},
		Moods:    []string{"neutral", "sadness", "joy"},
	},
	{
		ID: "exam.ten_minute_focus", Tag: "exam", Label: "10-minute focus",
		Step:     "Set a 10-minute timer and review just one small section.",
		Why:      "A bounded block is easier to start than an open-ended study session.",
		Keywords: []string{"exam", "study", "assignment", "test", "deadline", "finals", "focus"},
		Moods:    []string{"neutral", "optimism", "sadness", "distress"},
	},
	{
		ID: "relationship.soften_pause", Tag: "relationship", Label: "Soften & pause",
		Step:     "Step away for 2 minutes, breathe, then write one need in one sentence.",
		Keywords: []string{"relationship", "argument", "fight", "partner", "breakup"},
		Moods:    []string{"anger", "distress", "sadness"},
	},
	{
		ID: "sleep.dim_breathe", Tag: "sleep", Label: "Dim & breathe",
		Step:     "Dim your screen and take 5 slow breaths before the next step.",
		Keywords: []string{"sleep", "insomnia", "tired", "exhausted"},
		Moods:    []string{"sadness", "neutral"},
	},
	{
		ID: "walk.window_step_away", Tag: "walk", Label: "Window / step away",
		Step:     "Look out a window or walk for 2 minutes and notice 3 details.",
		Keywords: []string{"walk", "outside", "window", "restless", "stuck"},
		Moods:    []string{"anger", "sadness", "neutral", "joy"},
	},
}

// categoryRoute maps a query-text pattern to the card tags it should boost.
type categoryRoute struct {
	name string
	re   *regexp.Regexp
	tags []string
}

// Category routing: cheap regex families over the raw query that pull the
// ranking toward the tags a human would route that topic to.
var categoryRoutes = []categoryRoute{
	{"exam", regexp.MustCompile(`\b(exam|midterm|final|finals|study|assignment|test)\b`), []string{"exam", "hydrate", "stretch"}},
	{"relationship", regexp.MustCompile(`\b(gf|bf|partner|boyfriend|girlfriend|relationship|break ?up|argu(?:e|ment))\b`), []string{"relationship", "breathing", "walk"}},
	{"anxiety", regexp.MustCompile(`\b(panic|anxious|anxiety|racing|tight|overwhelm\w*)\b`), []string{"breathing", "grounding", "walk"}},
	{"lonely", regexp.MustCompile(`\b(lonely|alone|isolat\w*|flat|numb|empty)\b`), []string{"walk", "hydrate", "microtask"}},
	{"sleep", regexp.MustCompile(`\b(sleep|insomnia|tired|exhausted)\b`), []string{"sleep", "breathing"}},
	{"motivation", regexp.MustCompile(`\b(procrastinat\w*|motivat\w*|putting off|can.?t start)\b`), []string{"microtask", "hydrate"}},
	{"anger", regexp.MustCompile(`\b(angry|furious|rage|pissed|mad)\b`), []string{"stretch", "walk", "breathing"}},
}

// routedTags returns the preferred tags implied by the query text.
func routedTags(query string) map[string]bool {
	tags := make(map[string]bool)
	for _, route := range categoryRoutes {
		if route.re.MatchString(query) {
			for _, t := range route.tags {
				tags[t] = true
			}
		}
	}
	return tags
}
