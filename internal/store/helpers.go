package store

import (
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/DietPipe/internal/models"
)

// mergedRow holds the column values produced by applying a ProfileUpdate to a
// stored profile row.
type mergedRow struct {
	language   string
	state      models.ConversationState
	fieldsJSON string
	plan       string
}

// mergeProfileRow applies a partial update to the raw column values of a
// profile row. Field map entries are merged key by key so keys absent from the
// update survive unchanged.
func mergeProfileRow(language string, state models.ConversationState, fieldsJSON, plan string, update ProfileUpdate) (mergedRow, error) {
	if update.Language != nil {
		language = *update.Language
	}
	if update.State != nil {
		state = *update.State
	}
	if update.Plan != nil {
		plan = *update.Plan
	}
	if len(update.Fields) > 0 {
		fields := map[string]interface{}{}
		if fieldsJSON != "" {
			if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
				return mergedRow{}, fmt.Errorf("failed to unmarshal stored fields: %w", err)
			}
		}
		for k, v := range update.Fields {
			fields[k] = v
		}
		b, err := json.Marshal(fields)
		if err != nil {
			return mergedRow{}, fmt.Errorf("failed to marshal merged fields: %w", err)
		}
		fieldsJSON = string(b)
	}
	return mergedRow{language: language, state: state, fieldsJSON: fieldsJSON, plan: plan}, nil
}

// reverseMessages flips a message slice scanned in descending order back into
// chronological order.
func reverseMessages(msgs []models.ConversationMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
