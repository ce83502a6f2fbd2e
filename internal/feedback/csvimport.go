package feedback

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"jobinsights/internal/domain"
)

// Column names shared with the CSV analysis report.
const (
	ColJobID             = "Job ID"
	ColActivityName      = "Activity Name"
	ColErrorCategory     = "Error Category"
	ColErrorMessage      = "Error Message"
	ColCorrectedCategory = "Corrected Category"
	ColNotes             = "Notes"
	ColErrorCode         = "Error Code"
	ColExceptionType     = "Exception Type"
)

var requiredColumns = []string{ColJobID, ColActivityName, ColErrorCategory, ColErrorMessage}

// ImportResult summarizes an ImportCSV run.
type ImportResult struct {
	Imported  int
	Unchanged int
	Invalid   int
	Rows      int
}

// ImportCSV appends a correction for every row whose Corrected Category is
// set and differs from Error Category. Rows naming a category outside the
// taxonomy are skipped and counted as invalid.
func ImportCSV(ctx context.Context, store *Store, r io.Reader, user string) (ImportResult, error) {
	var res ImportResult
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return res, domain.Validationf("csv is empty")
	}
	if err != nil {
		return res, errors.Wrap(err, "read csv header")
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return res, domain.Validationf("csv missing required columns: %s", strings.Join(missing, ", "))
	}
	if _, ok := cols[ColCorrectedCategory]; !ok {
		return res, errors.WithHint(
			domain.Validationf("csv has no %q column", ColCorrectedCategory),
			"add a Corrected Category column and fill it for rows that were misclassified",
		)
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, errors.Wrapf(err, "read csv row %d", res.Rows+2)
		}
		res.Rows++

		correctedRaw := field(row, ColCorrectedCategory)
		if correctedRaw == "" {
			continue
		}
		original, err := domain.ParseCategory(field(row, ColErrorCategory))
		if err != nil {
			store.logger.Warn("skipping csv row", "row", res.Rows+1, "error", err)
			res.Invalid++
			continue
		}
		corrected, err := domain.ParseCategory(correctedRaw)
		if err != nil || !corrected.Concrete() {
			store.logger.Warn("skipping csv row", "row", res.Rows+1, "corrected_category", correctedRaw)
			res.Invalid++
			continue
		}
		if corrected == original {
			res.Unchanged++
			continue
		}

		c := domain.Correction{
			JobID:             field(row, ColJobID),
			ActivityName:      field(row, ColActivityName),
			OriginalCategory:  original,
			CorrectedCategory: corrected,
			ErrorSnippet:      field(row, ColErrorMessage),
			ExceptionType:     field(row, ColExceptionType),
			Reasoning:         field(row, ColNotes),
			User:              user,
		}
		if code, err := strconv.Atoi(field(row, ColErrorCode)); err == nil {
			c.ErrorCode = &code
		}
		if _, err := store.Append(ctx, c); err != nil {
			if errors.Is(err, domain.ErrValidation) {
				store.logger.Warn("skipping csv row", "row", res.Rows+1, "error", err)
				res.Invalid++
				continue
			}
			return res, err
		}
		res.Imported++
	}
	return res, nil
}
