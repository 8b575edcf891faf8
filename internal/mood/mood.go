package mood

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/CalmCompanion/CalmPipe/internal/models"
)

// labelMap folds the model-native labels into the application vocabulary.
// Unmapped labels fall back to neutral.
var labelMap = map[NativeLabel]models.MoodLabel{
	NativeAnger:    models.MoodAnger,
	NativeDisgust:  models.MoodAnger, // hostile/aversion pairs better with the anger bucket
	NativeFear:     models.MoodDistress,
	NativeSadness:  models.MoodSadness,
	NativeJoy:      models.MoodJoy,
	NativeNeutral:  models.MoodNeutral,
	NativeSurprise: models.MoodOptimism,
}

// appOrder fixes the application-label iteration order for deterministic
// argmax and tie-breaking.
var appOrder = []models.MoodLabel{
	models.MoodJoy, models.MoodSadness, models.MoodAnger,
	models.MoodDistress, models.MoodOptimism, models.MoodNeutral,
}

// Estimation parameter defaults. The current turn always dominates: with
// decay 0.6 and boost 1.5 a single strongly positive current turn outweighs
// three negative history turns.
const (
	DefaultHistoryWindow       = 4
	DefaultDecay               = 0.6
	DefaultCurrentBoost        = 1.5
	DefaultConfidenceThreshold = 0.40
	emojiNudgeFactor           = 1.3
)

var positiveEmojis = []string{"😀", "😃", "😄", "😁", "🙂", "😊", "😍", "🥰", "😂", "🤣", "🎉", "❤", "✨", "👍"}
var negativeEmojis = []string{"😢", "😭", "😞", "😔", "💔", "😡", "😠", "😰", "😨", "😱", "🙁", "☹", "😩", "😫"}

// Estimator blends per-turn emotion distributions into a single mood
// estimate. It holds only read-only configuration and a shared model handle,
// so one instance is safe for concurrent use.
type Estimator struct {
	model               Model
	historyWindow       int
	decay               float64
	currentBoost        float64
	confidenceThreshold float64
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithModel overrides the shared default emotion model.
func WithModel(m Model) Option {
	return func(e *Estimator) { e.model = m }
}

// WithHistoryWindow sets how many prior user turns stabilize the estimate.
func WithHistoryWindow(k int) Option {
	return func(e *Estimator) { e.historyWindow = k }
}

// WithDecay sets the geometric decay applied to older turns.
func WithDecay(d float64) Option {
	return func(e *Estimator) { e.decay = d }
}

// WithCurrentBoost sets the extra weight multiplier for the current turn.
func WithCurrentBoost(b float64) Option {
	return func(e *Estimator) { e.currentBoost = b }
}

// WithConfidenceThreshold sets the probability below which the output label
// is downgraded to neutral.
func WithConfidenceThreshold(t float64) Option {
	return func(e *Estimator) { e.confidenceThreshold = t }
}

// NewEstimator creates a mood estimator with the shared default model unless
// overridden.
func NewEstimator(opts ...Option) *Estimator {
	e := &Estimator{
		historyWindow:       DefaultHistoryWindow,
		decay:               DefaultDecay,
		currentBoost:        DefaultCurrentBoost,
		confidenceThreshold: DefaultConfidenceThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.model == nil {
		e.model = DefaultModel()
	}
	return e
}

// Estimate scores the current text, optionally blended with up to the
// configured number of prior user turns under geometric decay weighting.
// Mood estimation is advisory: any model failure degrades to neutral with
// zero confidence and never aborts the pipeline.
func (e *Estimator) Estimate(text string, history []models.Message) models.MoodEstimate {
	if strings.TrimSpace(text) == "" {
		return models.NeutralMood()
	}

	current, err := e.scoreTurn(text)
	if err != nil {
		slog.Warn("Estimator.Estimate: model scoring failed, degrading to neutral", "error", err)
		return models.MoodEstimate{Label: models.MoodNeutral, Confidence: 0}
	}

	turns := [][]float64{}
	for _, h := range lastUserTurns(history, e.historyWindow) {
		dist, err := e.scoreTurn(h)
		if err != nil {
			slog.Debug("Estimator.Estimate: history turn scoring failed, skipping", "error", err)
			continue
		}
		turns = append(turns, dist)
	}
	turns = append(turns, current)

	blended := e.blend(turns)
	return e.finalize(blended)
}

// scoreTurn produces an application-vocabulary distribution for one turn:
// model scores, label mapping, then the emoji-presence nudge.
func (e *Estimator) scoreTurn(text string) ([]float64, error) {
	native, err := e.model.Score(text)
	if err != nil {
		return nil, err
	}
	dist := make([]float64, len(appOrder))
	for _, ns := range native {
		app, ok := labelMap[ns.Label]
		if !ok {
			app = models.MoodNeutral
		}
		dist[appIndex(app)] += ns.Score
	}
	e.applyEmojiPrior(text, dist)
	return dist, nil
}

// applyEmojiPrior nudges the distribution on emoji presence and
// renormalizes.
func (e *Estimator) applyEmojiPrior(text string, dist []float64) {
	nudged := false
	if containsAnyString(text, positiveEmojis) {
		dist[appIndex(models.MoodJoy)] *= emojiNudgeFactor
		dist[appIndex(models.MoodOptimism)] *= emojiNudgeFactor
		nudged = true
	}
	if containsAnyString(text, negativeEmojis) {
		dist[appIndex(models.MoodSadness)] *= emojiNudgeFactor
		dist[appIndex(models.MoodDistress)] *= emojiNudgeFactor
		nudged = true
	}
	if nudged {
		renormalize(dist)
	}
}

// blend combines per-turn distributions, oldest first, with geometric decay
// and the current-turn boost. Weights are renormalized to sum to 1.
func (e *Estimator) blend(turns [][]float64) []float64 {
	n := len(turns)
	weights := make([]float64, n)
	var sum float64
	for i := 0; i < n; i++ {
		w := pow(e.decay, n-1-i)
		if i == n-1 {
			w *= e.currentBoost
		}
		weights[i] = w
		sum += w
	}
	blended := make([]float64, len(appOrder))
	for i, dist := range turns {
		w := weights[i] / sum
		for j, p := range dist {
			blended[j] += w * p
		}
	}
	return blended
}

// finalize picks the arg-max label, applies the neutral downgrade below the
// confidence threshold, and reports the true top-3 either way.
func (e *Estimator) finalize(dist []float64) models.MoodEstimate {
	top3 := topLabels(dist, 3)
	top := top3[0]
	label := top.Label
	if top.Probability < e.confidenceThreshold {
		label = models.MoodNeutral
	}
	return models.MoodEstimate{
		Label:      label,
		Confidence: top.Probability,
		Top3:       top3,
	}
}

func lastUserTurns(history []models.Message, k int) []string {
	var turns []string
	for _, m := range history {
		if m.Role == "user" && strings.TrimSpace(m.Content) != "" {
			turns = append(turns, m.Content)
		}
	}
	if len(turns) > k {
		turns = turns[len(turns)-k:]
	}
	return turns
}

func topLabels(dist []float64, k int) []models.LabelScore {
	scores := make([]models.LabelScore, len(appOrder))
	for i, label := range appOrder {
		scores[i] = models.LabelScore{Label: label, Probability: dist[i]}
	}
	// Stable sort preserves appOrder on ties.
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Probability > scores[j].Probability
	})
	if len(scores) > k {
		scores = scores[:k]
	}
	return scores
}

func appIndex(label models.MoodLabel) int {
	for i, l := range appOrder {
		if l == label {
			return i
		}
	}
	return len(appOrder) - 1 // neutral
}

func containsAnyString(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func renormalize(dist []float64) {
	var sum float64
	for _, p := range dist {
		sum += p
	}
	if sum <= 0 {
		return
	}
	for i := range dist {
		dist[i] /= sum
	}
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}
