// Package mood estimates the speaker's emotional state from the current
// utterance and recent history.
//
// Scoring runs against a pretrained multi-class emotion model expressed as
// the Model interface. The in-process default is an embedded weighted-lexicon
// scorer over the same native label set as the served checkpoint it stands in
// for, so a remote model can be swapped in without touching the estimator.
package mood

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"
)

// NativeLabel is a label in the emotion model's own vocabulary.
type NativeLabel string

// Model-native label set.
const (
	NativeAnger    NativeLabel = "anger"
	NativeDisgust  NativeLabel = "disgust"
	NativeFear     NativeLabel = "fear"
	NativeJoy      NativeLabel = "joy"
	NativeNeutral  NativeLabel = "neutral"
	NativeSadness  NativeLabel = "sadness"
	NativeSurprise NativeLabel = "surprise"
)

// nativeOrder fixes iteration order so scoring is deterministic.
var nativeOrder = []NativeLabel{
	NativeAnger, NativeDisgust, NativeFear, NativeJoy,
	NativeNeutral, NativeSadness, NativeSurprise,
}

// NativeScore pairs a native label with its probability.
type NativeScore struct {
	Label NativeLabel
	Score float64
}

// Model scores text into a probability distribution over the native label
// set. Implementations must return scores summing to 1.
type Model interface {
	Score(text string) ([]NativeScore, error)
}

// DefaultModel returns the shared embedded lexicon model, built exactly once.
var DefaultModel = sync.OnceValue(func() Model {
	return newLexiconModel()
})

// lexiconModel is a deterministic in-process emotion scorer: summed
// per-token label weights pushed through a sharpened softmax.
type lexiconModel struct {
	lexicon map[string]map[NativeLabel]float64
}

const (
	// neutralSmoothing keeps single weak hits from saturating the output.
	neutralSmoothing = 0.25
	// softmaxScale sharpens the distribution so clear signals clear the
	// estimator's confidence threshold.
	softmaxScale = 2.0
)

var wordRe = regexp.MustCompile(`[a-zA-Z][a-zA-Z'-]+`)

func newLexiconModel() *lexiconModel {
	return &lexiconModel{lexicon: buildLexicon()}
}

// Score implements Model. It never fails for the embedded lexicon but keeps
// the error return so served-model implementations can report transport
// failures.
func (m *lexiconModel) Score(text string) ([]NativeScore, error) {
	if m.lexicon == nil {
		return nil, fmt.Errorf("lexicon not initialized")
	}
	raw := make(map[NativeLabel]float64, len(nativeOrder))
	hits := 0
	for _, tok := range wordRe.FindAllString(strings.ToLower(text), -1) {
		weights, ok := m.lexicon[tok]
		if !ok {
			continue
		}
		hits++
		for label, w := range weights {
			raw[label] += w
		}
	}
	if hits == 0 {
		return flatNeutral(), nil
	}
	raw[NativeNeutral] += neutralSmoothing
	return softmax(raw), nil
}

// flatNeutral is the distribution for text with no lexical emotion signal.
func flatNeutral() []NativeScore {
	out := make([]NativeScore, 0, len(nativeOrder))
	for _, label := range nativeOrder {
		p := 0.05
		if label == NativeNeutral {
			p = 0.70
		}
		out = append(out, NativeScore{Label: label, Score: p})
	}
	return out
}

func softmax(raw map[NativeLabel]float64) []NativeScore {
	var sum float64
	exps := make([]float64, len(nativeOrder))
	for i, label := range nativeOrder {
		exps[i] = math.Exp(softmaxScale * raw[label])
		sum += exps[i]
	}
	out := make([]NativeScore, len(nativeOrder))
	for i, label := range nativeOrder {
		out[i] = NativeScore{Label: label, Score: exps[i] / sum}
	}
	return out
}

// buildLexicon returns the embedded emotion lexicon. Weights above 1.0 mark
// high-intensity terms.
func buildLexicon() map[string]map[NativeLabel]float64 {
	lex := make(map[string]map[NativeLabel]float64)
	add := func(label NativeLabel, weight float64, words ...string) {
		for _, w := range words {
			if lex[w] == nil {
				lex[w] = make(map[NativeLabel]float64, 2)
			}
			lex[w][label] += weight
		}
	}

	add(NativeJoy, 1.0,
		"happy", "glad", "great", "awesome", "amazing", "wonderful",
		"excited", "love", "loved", "loving", "fun", "enjoy", "enjoyed",
		"fantastic", "delighted", "yay", "smiling", "proud", "grateful",
		"relieved", "excellent", "cheerful", "joy", "joyful", "passed",
		"aced", "celebrate", "celebrating")
	add(NativeJoy, 1.5, "thrilled", "ecstatic", "overjoyed")

	add(NativeSadness, 1.0,
		"sad", "down", "unhappy", "miserable", "crying", "cried", "tears",
		"lonely", "alone", "empty", "numb", "heartbroken", "grief",
		"grieving", "miss", "missing", "gloomy", "blue", "hurt", "hurting",
		"worthless", "exhausted", "drained", "tired", "disappointed",
		"failed", "failing", "regret")
	add(NativeSadness, 1.5, "depressed", "hopeless", "devastated")

	add(NativeAnger, 1.0,
		"angry", "mad", "annoyed", "irritated", "frustrated", "frustrating",
		"hate", "hated", "resent", "unfair", "outraged", "argue", "argued",
		"arguing", "argument", "yelled", "yelling", "fight", "fought")
	add(NativeAnger, 1.5, "furious", "rage", "livid", "pissed")

	add(NativeFear, 1.0,
		"anxious", "anxiety", "worried", "worry", "worrying", "scared",
		"afraid", "nervous", "stressed", "stress", "stressing", "tense",
		"dread", "fear", "uneasy", "racing", "restless", "frightened",
		"overwhelmed", "overwhelming", "pressure", "insomnia")
	add(NativeFear, 1.5, "panic", "panicking", "terrified", "paralyzed")

	add(NativeDisgust, 1.0,
		"disgusted", "disgusting", "gross", "awful", "horrible", "nasty",
		"revolting", "repulsed")

	add(NativeSurprise, 1.0,
		"surprised", "unexpected", "wow", "unbelievable", "hopeful", "hope",
		"hoping", "optimistic", "improving", "better", "brighter",
		"motivated", "encouraged")

	add(NativeNeutral, 1.0,
		"okay", "ok", "fine", "alright", "normal", "meh", "whatever")

	return lex
}
