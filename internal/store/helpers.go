package store

import (
	"database/sql"
	"fmt"

	"github.com/CalmCompanion/CalmPipe/internal/models"
)

// scanInteractions drains rows into interaction records.
func scanInteractions(rows *sql.Rows) ([]models.Interaction, error) {
	var out []models.Interaction
	for rows.Next() {
		var in models.Interaction
		if err := rows.Scan(
			&in.ID, &in.UserID, &in.UserText, &in.DetectedMood, &in.ChosenStrategy,
			&in.Message, &in.SafetyFlag, &in.AdviceGiven, &in.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan interaction row failed: %w", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interaction rows failed: %w", err)
	}
	return out, nil
}

// scanStrategies drains rows into strategy cards, splitting the
// comma-joined keyword and mood columns.
func scanStrategies(rows *sql.Rows) ([]models.StrategyCard, error) {
	var out []models.StrategyCard
	for rows.Next() {
		var c models.StrategyCard
		var keywords, moods string
		if err := rows.Scan(
			&c.ID, &c.Tag, &c.Label, &c.Step, &c.Why, &keywords, &moods,
			&c.SourceName, &c.SourceURL,
		); err != nil {
			return nil, fmt.Errorf("scan strategy row failed: %w", err)
		}
		c.Keywords = splitList(keywords)
		c.Moods = splitList(moods)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate strategy rows failed: %w", err)
	}
	return out, nil
}
