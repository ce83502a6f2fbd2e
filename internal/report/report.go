package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"jobinsights/internal/analysis"
	"jobinsights/internal/domain"
	"jobinsights/internal/feedback"
)

type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
)

func Formats() []Format {
	return []Format{FormatText, FormatMarkdown, FormatJSON, FormatCSV}
}

func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case "":
		return FormatText, nil
	case "md":
		return FormatMarkdown, nil
	case FormatText, FormatMarkdown, FormatJSON, FormatCSV:
		return f, nil
	}
	return "", domain.Validationf("unknown report format %q (want text, markdown, json or csv)", s)
}

// Extension is the file extension used when writing f to disk.
func (f Format) Extension() string {
	switch f {
	case FormatMarkdown:
		return "md"
	case FormatJSON:
		return "json"
	case FormatCSV:
		return "csv"
	}
	return "txt"
}

func Render(w io.Writer, s analysis.Summary, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case FormatCSV:
		return renderCSV(w, s)
	case FormatMarkdown:
		_, err := io.WriteString(w, renderMarkdown(s))
		return err
	case FormatText, "":
		_, err := io.WriteString(w, renderText(s))
		return err
	}
	return domain.Validationf("unknown report format %q", f)
}

// WriteReportFile renders s into outputDir as failures_YYYYMMDD.<ext> and
// returns the path.
func WriteReportFile(s analysis.Summary, f Format, outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	filename := fmt.Sprintf("failures_%s.%s", s.PeriodEnd.Format("20060102"), f.Extension())
	path := filepath.Join(outputDir, filename)
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := Render(out, s, f); err != nil {
		out.Close()
		return "", err
	}
	return path, out.Close()
}

// CSV columns. Corrected Category and Notes are left blank for reviewers;
// the file can then be fed back through import-corrections.
var csvHeader = []string{
	feedback.ColJobID,
	"Pipeline Name",
	"Tenant ID",
	"Finished At",
	feedback.ColActivityName,
	feedback.ColErrorCategory,
	"Classified By",
	"Confidence",
	"Reasoning",
	feedback.ColErrorCode,
	feedback.ColErrorMessage,
	feedback.ColExceptionType,
	feedback.ColCorrectedCategory,
	feedback.ColNotes,
}

func renderCSV(w io.Writer, s analysis.Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range s.Results {
		for _, c := range r.Classifications {
			code := ""
			if c.Error.Code != nil {
				code = strconv.Itoa(*c.Error.Code)
			}
			if err := cw.Write([]string{
				r.JobID,
				r.Pipeline(),
				r.TenantID,
				formatTime(r.FinishedAt),
				c.ActivityName,
				string(c.Category),
				string(c.ClassifiedBy),
				strconv.FormatFloat(c.Confidence, 'f', 2, 64),
				c.Reasoning,
				code,
				c.Error.Message,
				c.Error.ExceptionType,
				"",
				"",
			}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

type countRow struct {
	key   string
	count int
}

// sortedCounts orders by count descending, then key.
func sortedCounts[K ~string](m map[K]int) []countRow {
	rows := make([]countRow, 0, len(m))
	for k, n := range m {
		rows = append(rows, countRow{string(k), n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].key < rows[j].key
	})
	return rows
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "Unknown"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func clip(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
