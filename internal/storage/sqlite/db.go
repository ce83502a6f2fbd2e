package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"

	"jobinsights/internal/domain"
)

func InitDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, domain.MarkStore(err, "create database directory")
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, domain.MarkStore(err, "open sqlite database")
	}
	// One writer at a time; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS classification_corrections (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		correction_id      TEXT NOT NULL UNIQUE,
		job_id             TEXT NOT NULL,
		activity_name      TEXT DEFAULT '',
		original_category  TEXT NOT NULL,
		corrected_category TEXT NOT NULL,
		error_snippet      TEXT DEFAULT '',
		exception_type     TEXT DEFAULT '',
		error_code         INTEGER,
		reasoning          TEXT DEFAULT '',
		corrected_by       TEXT DEFAULT '',
		corrected_at       DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cc_date ON classification_corrections(corrected_at);
	CREATE INDEX IF NOT EXISTS idx_cc_category ON classification_corrections(corrected_category);

	CREATE TABLE IF NOT EXISTS classification_history (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id          TEXT NOT NULL,
		activity_name   TEXT DEFAULT '',
		category        TEXT NOT NULL,
		confidence      REAL NOT NULL,
		classified_by   TEXT NOT NULL,
		matched_pattern TEXT DEFAULT '',
		error_message   TEXT DEFAULT '',
		llm_provider    TEXT DEFAULT '',
		llm_model       TEXT DEFAULT '',
		classified_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_ch_job ON classification_history(job_id);
	CREATE INDEX IF NOT EXISTS idx_ch_date ON classification_history(classified_at);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, domain.MarkStore(err, "create sqlite schema")
	}
	return db, nil
}

// --- Classification Corrections ---

func InsertCorrection(ctx context.Context, db *sql.DB, c domain.Correction) error {
	var code sql.NullInt64
	if c.ErrorCode != nil {
		code = sql.NullInt64{Int64: int64(*c.ErrorCode), Valid: true}
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO classification_corrections
		 (correction_id, job_id, activity_name, original_category, corrected_category,
		  error_snippet, exception_type, error_code, reasoning, corrected_by, corrected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.JobID, c.ActivityName, string(c.OriginalCategory), string(c.CorrectedCategory),
		c.ErrorSnippet, c.ExceptionType, code, c.Reasoning, c.User, c.Timestamp.UTC(),
	)
	return domain.MarkStore(err, "insert correction")
}

// ListCorrections returns every correction in insertion order.
func ListCorrections(ctx context.Context, db *sql.DB) ([]domain.Correction, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT correction_id, job_id, activity_name, original_category, corrected_category,
		        error_snippet, exception_type, error_code, reasoning, corrected_by, corrected_at
		 FROM classification_corrections
		 ORDER BY id ASC`,
	)
	if err != nil {
		return nil, domain.MarkStore(err, "query corrections")
	}
	defer rows.Close()

	var out []domain.Correction
	for rows.Next() {
		var (
			c                   domain.Correction
			original, corrected string
			code                sql.NullInt64
		)
		if err := rows.Scan(
			&c.ID, &c.JobID, &c.ActivityName, &original, &corrected,
			&c.ErrorSnippet, &c.ExceptionType, &code, &c.Reasoning, &c.User, &c.Timestamp,
		); err != nil {
			return nil, domain.MarkStore(err, "scan correction")
		}
		c.OriginalCategory = domain.Category(original)
		c.CorrectedCategory = domain.Category(corrected)
		if code.Valid {
			n := int(code.Int64)
			c.ErrorCode = &n
		}
		out = append(out, c)
	}
	return out, domain.MarkStore(rows.Err(), "iterate corrections")
}

// --- Classification History ---

func InsertClassificationHistory(ctx context.Context, db *sql.DB, records []domain.ClassificationRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domain.MarkStore(err, "begin history tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO classification_history
		 (job_id, activity_name, category, confidence, classified_by, matched_pattern,
		  error_message, llm_provider, llm_model, classified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return domain.MarkStore(err, "prepare history insert")
	}
	defer stmt.Close()

	for _, r := range records {
		at := r.ClassifiedAt
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			r.JobID, r.ActivityName, string(r.Category), r.Confidence, string(r.ClassifiedBy),
			r.MatchedPattern, r.ErrorMessage, r.LLMProvider, r.LLMModel, at.UTC(),
		); err != nil {
			return domain.MarkStore(err, "insert history row")
		}
	}
	return domain.MarkStore(tx.Commit(), "commit history")
}

// GetLatestClassification returns the newest history row for a job.
func GetLatestClassification(ctx context.Context, db *sql.DB, jobID string) (domain.ClassificationRecord, error) {
	var (
		r            domain.ClassificationRecord
		category, by string
	)
	err := db.QueryRowContext(ctx,
		`SELECT id, job_id, activity_name, category, confidence, classified_by,
		        matched_pattern, error_message, llm_provider, llm_model, classified_at
		 FROM classification_history
		 WHERE job_id = ?
		 ORDER BY classified_at DESC, id DESC LIMIT 1`,
		jobID,
	).Scan(
		&r.ID, &r.JobID, &r.ActivityName, &category, &r.Confidence, &by,
		&r.MatchedPattern, &r.ErrorMessage, &r.LLMProvider, &r.LLMModel, &r.ClassifiedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return r, err
	}
	r.Category = domain.Category(category)
	r.ClassifiedBy = domain.ClassifiedBy(by)
	return r, domain.MarkStore(err, "query latest classification")
}

// --- Classification Stats ---

func GetClassificationStats(ctx context.Context, db *sql.DB, since time.Time) (domain.ClassificationStats, error) {
	var s domain.ClassificationStats
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(confidence), 0),
		        COALESCE(SUM(CASE WHEN classified_by = 'rules' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN classified_by = 'llm' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN classified_by = 'none' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN confidence < 0.50 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN confidence >= 0.50 AND confidence < 0.70 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN confidence >= 0.70 AND confidence < 0.90 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN confidence >= 0.90 THEN 1 ELSE 0 END), 0)
		 FROM classification_history WHERE classified_at >= ?`,
		since.UTC(),
	).Scan(&s.TotalClassifications, &s.AvgConfidence,
		&s.ByRules, &s.ByLLM, &s.Unclassified,
		&s.BucketBelow50, &s.Bucket50to70, &s.Bucket70to90, &s.Bucket90Plus)
	if err != nil {
		return s, domain.MarkStore(err, "query classification stats")
	}

	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM classification_corrections WHERE corrected_at >= ?`,
		since.UTC(),
	).Scan(&s.TotalCorrections)
	return s, domain.MarkStore(err, "count corrections")
}

// CategoryCorrectionStat counts how often one category was corrected into another.
type CategoryCorrectionStat struct {
	OriginalCategory  domain.Category
	CorrectedCategory domain.Category
	CorrectionCount   int
}

func GetCorrectionsByCategory(ctx context.Context, db *sql.DB, since time.Time) ([]CategoryCorrectionStat, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT original_category, corrected_category, COUNT(*) as cnt
		 FROM classification_corrections
		 WHERE corrected_at >= ?
		 GROUP BY original_category, corrected_category
		 ORDER BY cnt DESC, original_category, corrected_category
		 LIMIT 10`,
		since.UTC(),
	)
	if err != nil {
		return nil, domain.MarkStore(err, "query corrections by category")
	}
	defer rows.Close()

	var out []CategoryCorrectionStat
	for rows.Next() {
		var (
			s                   CategoryCorrectionStat
			original, corrected string
		)
		if err := rows.Scan(&original, &corrected, &s.CorrectionCount); err != nil {
			return nil, domain.MarkStore(err, "scan correction stat")
		}
		s.OriginalCategory = domain.Category(original)
		s.CorrectedCategory = domain.Category(corrected)
		out = append(out, s)
	}
	return out, domain.MarkStore(rows.Err(), "iterate correction stats")
}

type WeeklyTrend struct {
	WeekStart       string
	Classifications int
	Corrections     int
	AvgConfidence   float64
}

func GetWeeklyClassificationTrend(ctx context.Context, db *sql.DB, since time.Time) ([]WeeklyTrend, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT
		    strftime('%Y-%m-%d', classified_at, 'weekday 0', '-6 days') as week_start,
		    COUNT(*) as classifications,
		    COALESCE(AVG(confidence), 0) as avg_confidence
		 FROM classification_history
		 WHERE classified_at >= ?
		 GROUP BY week_start
		 ORDER BY week_start DESC`,
		since.UTC(),
	)
	if err != nil {
		return nil, domain.MarkStore(err, "query weekly trend")
	}
	defer rows.Close()

	var trends []WeeklyTrend
	for rows.Next() {
		var t WeeklyTrend
		if err := rows.Scan(&t.WeekStart, &t.Classifications, &t.AvgConfidence); err != nil {
			return nil, domain.MarkStore(err, "scan weekly trend")
		}
		trends = append(trends, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.MarkStore(err, "iterate weekly trend")
	}

	corrRows, err := db.QueryContext(ctx,
		`SELECT
		    strftime('%Y-%m-%d', corrected_at, 'weekday 0', '-6 days') as week_start,
		    COUNT(*) as corrections
		 FROM classification_corrections
		 WHERE corrected_at >= ?
		 GROUP BY week_start`,
		since.UTC(),
	)
	if err != nil {
		return trends, nil // non-fatal
	}
	defer corrRows.Close()

	corrMap := make(map[string]int)
	for corrRows.Next() {
		var ws string
		var cnt int
		if err := corrRows.Scan(&ws, &cnt); err != nil {
			continue
		}
		corrMap[ws] = cnt
	}
	for i := range trends {
		trends[i].Corrections = corrMap[trends[i].WeekStart]
	}
	return trends, nil
}
