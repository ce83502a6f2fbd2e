package feedback

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"jobinsights/internal/domain"
)

// legacyCorrection is one element of the older feedback.json array, which
// kept the raw error object next to the categories.
type legacyCorrection struct {
	Timestamp         string          `json:"timestamp"`
	JobID             string          `json:"job_id"`
	ActivityName      string          `json:"activity_name"`
	Error             json.RawMessage `json:"error"`
	OriginalCategory  string          `json:"original_category"`
	CorrectedCategory string          `json:"corrected_category"`
	User              string          `json:"user"`
	Notes             string          `json:"notes"`
}

type legacyError struct {
	Code      json.RawMessage `json:"code"`
	Message   string          `json:"message"`
	Exception string          `json:"exception"`
}

var legacyTimeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"}

// ImportLegacyJSON reads a JSON array of corrections in the older
// feedback.json layout and appends the ones that change the category.
// Records that do not decode or name a category outside the taxonomy are
// counted as invalid. The record's own user wins over user.
func ImportLegacyJSON(ctx context.Context, store *Store, r io.Reader, user string) (ImportResult, error) {
	var res ImportResult
	var records []json.RawMessage
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		if err == io.EOF {
			return res, domain.Validationf("feedback file is empty")
		}
		return res, errors.Mark(errors.Wrap(err, "feedback file must hold a JSON array"), domain.ErrValidation)
	}

	for i, raw := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Rows++

		var rec legacyCorrection
		if err := json.Unmarshal(raw, &rec); err != nil {
			store.logger.Warn("skipping feedback record", "index", i, "error", err)
			res.Invalid++
			continue
		}
		original, err := domain.ParseCategory(rec.OriginalCategory)
		if err != nil {
			store.logger.Warn("skipping feedback record", "index", i, "error", err)
			res.Invalid++
			continue
		}
		corrected, err := domain.ParseCategory(rec.CorrectedCategory)
		if err != nil || !corrected.Concrete() {
			store.logger.Warn("skipping feedback record", "index", i, "corrected_category", rec.CorrectedCategory)
			res.Invalid++
			continue
		}
		if corrected == original {
			res.Unchanged++
			continue
		}

		c := domain.Correction{
			JobID:             rec.JobID,
			ActivityName:      rec.ActivityName,
			OriginalCategory:  original,
			CorrectedCategory: corrected,
			Reasoning:         rec.Notes,
			User:              rec.User,
			Timestamp:         parseLegacyTime(rec.Timestamp),
		}
		if c.User == "" {
			c.User = user
		}
		applyLegacyError(&c, rec.Error)

		if _, err := store.Append(ctx, c); err != nil {
			if errors.Is(err, domain.ErrValidation) {
				store.logger.Warn("skipping feedback record", "index", i, "error", err)
				res.Invalid++
				continue
			}
			return res, err
		}
		res.Imported++
	}
	return res, nil
}

// applyLegacyError copies message, exception and code from the stored
// error object. A bare string is taken as the message.
func applyLegacyError(c *domain.Correction, raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var e legacyError
	if err := json.Unmarshal(raw, &e); err != nil {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			c.ErrorSnippet = s
		}
		return
	}
	c.ErrorSnippet = e.Message
	c.ExceptionType = e.Exception
	code := strings.Trim(strings.TrimSpace(string(e.Code)), `"`)
	if n, err := strconv.Atoi(code); err == nil && n != 0 {
		c.ErrorCode = &n
	}
}

// parseLegacyTime returns the zero time for anything it cannot read so the
// store stamps the record on import.
func parseLegacyTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range legacyTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
