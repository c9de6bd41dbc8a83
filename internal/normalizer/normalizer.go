// Package normalizer turns transport payloads into canonical work item updates.
package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"workfeed/pkg/models"
)

var (
	ErrMissingID = errors.New("work item id is missing")
	ErrInvalidID = errors.New("work item id must be a string or a number")
)

// ParseEnvelope is the parse gate every transport runs inbound frames through.
func ParseEnvelope(raw []byte) (models.EventEnvelope, error) {
	var env models.EventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.EventEnvelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if err := models.ValidateEnvelope(&env); err != nil {
		return models.EventEnvelope{}, err
	}
	return env, nil
}

// DecodeData decodes the data object of an envelope.
func DecodeData(env models.EventEnvelope) (models.WorkItemData, error) {
	var data models.WorkItemData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return models.WorkItemData{}, fmt.Errorf("failed to unmarshal work item data: %w", err)
	}
	return data, nil
}

// Normalize builds a WorkItemUpdate from wire data. Absent workflow fields get
// their documented defaults; only a missing or malformed id is rejected.
func Normalize(data models.WorkItemData, source string) (models.WorkItemUpdate, error) {
	id, err := CoerceID(data.ID)
	if err != nil {
		return models.WorkItemUpdate{}, err
	}
	if id == "" {
		return models.WorkItemUpdate{}, ErrMissingID
	}

	// submission_id is optional; a malformed one is dropped rather than
	// failing the whole event.
	submissionID, _ := CoerceID(data.SubmissionID)

	update := models.WorkItemUpdate{
		ID:               id,
		SubmissionID:     submissionID,
		SubmissionRef:    data.SubmissionRef,
		Subject:          data.Subject,
		CreatedAt:        data.CreatedAt,
		Status:           data.Status,
		Owner:            stringOr(data.Owner, models.DefaultOwner),
		Type:             stringOr(data.Type, models.DefaultType),
		Priority:         stringOr(data.Priority, models.DefaultPriority),
		GWPCStatus:       stringOr(data.GWPCStatus, models.DefaultGWPCStatus),
		Indicated:        models.DefaultIndicated,
		AutomationStatus: stringOr(data.AutomationStatus, models.DefaultAutomationStatus),
		ExposureStatus:   stringOr(data.ExposureStatus, models.DefaultExposureStatus),
		Source:           source,
	}
	if data.FromEmail != nil {
		update.FromEmail = *data.FromEmail
	}
	if data.Indicated != nil {
		update.Indicated = *data.Indicated
	}
	if len(data.ExtractedFields) > 0 {
		update.ExtractedFields = make(map[string]string, len(data.ExtractedFields))
		for k, v := range data.ExtractedFields {
			update.ExtractedFields[k] = v
		}
	}

	return update, nil
}

// CoerceID renders a raw JSON id as a string. Integers keep every digit and
// other numbers their shortest decimal form, so 42 and "42" name the same
// item. Empty and null yield "".
func CoerceID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidID, err)
		}
		return strings.TrimSpace(s), nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidID, err)
		}
		if !strings.ContainsAny(n.String(), ".eE") {
			i, ok := new(big.Int).SetString(n.String(), 10)
			if !ok {
				return "", ErrInvalidID
			}
			return i.String(), nil
		}
		f, err := n.Float64()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidID, err)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	default:
		return "", ErrInvalidID
	}
}

func stringOr(v *string, fallback string) string {
	if v == nil || *v == "" {
		return fallback
	}
	return *v
}
