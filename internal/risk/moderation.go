package risk

import (
	"context"

	"github.com/CalmCompanion/CalmPipe/internal/models"
)

// Moderator provides a secondary safety opinion from an external
// moderation/classification service. Implementations must treat every
// failure mode (timeout, non-2xx, unparseable output) as "no opinion" by
// returning an error; the classifier never lets a moderation failure change
// the rule verdict.
type Moderator interface {
	ModerateText(ctx context.Context, text string) (models.RiskLabel, error)
}

// ModeratorFunc adapts a plain function to the Moderator interface.
type ModeratorFunc func(ctx context.Context, text string) (models.RiskLabel, error)

// ModerateText calls f.
func (f ModeratorFunc) ModerateText(ctx context.Context, text string) (models.RiskLabel, error) {
	return f(ctx, text)
}
