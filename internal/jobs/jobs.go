package jobs

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobinsights/internal/domain"
)

const (
	DefaultLimit    = 1000
	DefaultLookback = 24 * time.Hour
)

// Job is one failed job execution.
type Job struct {
	ID           string          `json:"id"`
	PipelineID   string          `json:"pipeline_id"`
	PipelineName string          `json:"pipeline_name,omitempty"`
	SessionID    string          `json:"session_id,omitempty"`
	TenantID     string          `json:"tenant_id"`
	Status       string          `json:"status"`
	Data         json.RawMessage `json:"data"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	Duration     string          `json:"duration,omitempty"`
}

// Query selects failed jobs finished within [Since, Until].
type Query struct {
	Since    time.Time
	Until    time.Time
	TenantID string
	Limit    int
}

// Normalize fills unset bounds relative to now.
func (q Query) Normalize(now time.Time) Query {
	if q.Until.IsZero() {
		q.Until = now
	}
	if q.Since.IsZero() {
		q.Since = q.Until.Add(-DefaultLookback)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	return q
}

type Source interface {
	FailedJobs(ctx context.Context, q Query) ([]Job, error)
}

// Connect opens a pool and checks it with a ping.
func Connect(ctx context.Context, uri string) (*pgxpool.Pool, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, domain.Configurationf("database_uri is required to read failed jobs")
	}
	poolCfg, err := pgxpool.ParseConfig(uri)
	if err != nil {
		return nil, domain.MarkConfiguration(err, "parsing database_uri")
	}
	poolCfg.MaxConns = 4
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, domain.MarkStore(err, "creating connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, domain.MarkStore(err, "connecting to job database")
	}
	return pool, nil
}

// PostgresSource reads failed executions from the workflow manager
// database. It does not own the pool.
type PostgresSource struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool, now: time.Now}
}

const failedJobsQuery = `
	SELECT
		je.id::text,
		COALESCE(je.pipeline_id::text, ''),
		COALESCE(p.name, ''),
		COALESCE(je.session_id::text, ''),
		COALESCE(je.tenant_id::text, ''),
		je.status,
		je.data,
		je.started_at,
		je.finished_at,
		COALESCE(je.duration::text, '')
	FROM job_execution je
	LEFT JOIN pipeline p ON je.pipeline_id = p.id
	WHERE je.status = 'FAILURE'
	  AND je.finished_at >= $1
	  AND je.finished_at <= $2
	  AND je.data IS NOT NULL
	  AND je.data->>'run_info' IS NOT NULL
	  AND ($4 = '' OR je.tenant_id::text = $4)
	ORDER BY je.finished_at DESC
	LIMIT $3
`

func (s *PostgresSource) FailedJobs(ctx context.Context, q Query) ([]Job, error) {
	q = q.Normalize(s.now().UTC())
	rows, err := s.pool.Query(ctx, failedJobsQuery, q.Since, q.Until, q.Limit, q.TenantID)
	if err != nil {
		return nil, domain.MarkStore(err, "querying failed jobs")
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		var data []byte
		if err := rows.Scan(
			&j.ID, &j.PipelineID, &j.PipelineName, &j.SessionID, &j.TenantID,
			&j.Status, &data, &j.StartedAt, &j.FinishedAt, &j.Duration,
		); err != nil {
			return nil, domain.MarkStore(err, "scanning failed job")
		}
		j.Data = data
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.MarkStore(err, "reading failed jobs")
	}
	return out, nil
}

// MemorySource serves a fixed set of jobs. Used by tests and for replaying
// exported job dumps.
type MemorySource struct {
	Jobs []Job
}

func (m *MemorySource) FailedJobs(_ context.Context, q Query) ([]Job, error) {
	q = q.Normalize(time.Now().UTC())
	var out []Job
	for _, j := range m.Jobs {
		if j.FinishedAt != nil && (j.FinishedAt.Before(q.Since) || j.FinishedAt.After(q.Until)) {
			continue
		}
		if q.TenantID != "" && j.TenantID != q.TenantID {
			continue
		}
		out = append(out, j)
	}
	sort.SliceStable(out, func(i, k int) bool {
		a, b := out[i].FinishedAt, out[k].FinishedAt
		if a == nil || b == nil {
			return a != nil
		}
		return a.After(*b)
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

type runData struct {
	RunInfo *struct {
		Errors map[string][]rawError `json:"errors"`
	} `json:"run_info"`
}

type rawError struct {
	Code      json.RawMessage `json:"code"`
	Message   json.RawMessage `json:"message"`
	Exception json.RawMessage `json:"exception"`
	Details   map[string]any  `json:"details"`
}

// Records flattens run_info.errors into error records. Activities are
// visited in name order so the result is stable.
func (j Job) Records() ([]domain.ErrorRecord, error) {
	if len(j.Data) == 0 {
		return nil, nil
	}
	var d runData
	if err := json.Unmarshal(j.Data, &d); err != nil {
		return nil, errors.Wrapf(err, "job %s: decoding run_info", j.ID)
	}
	if d.RunInfo == nil || len(d.RunInfo.Errors) == 0 {
		return nil, nil
	}

	activities := make([]string, 0, len(d.RunInfo.Errors))
	for name := range d.RunInfo.Errors {
		activities = append(activities, name)
	}
	sort.Strings(activities)

	var out []domain.ErrorRecord
	for _, name := range activities {
		for _, e := range d.RunInfo.Errors[name] {
			out = append(out, domain.ErrorRecord{
				Code:          parseCode(e.Code),
				Message:       rawText(e.Message),
				ExceptionType: rawText(e.Exception),
				ActivityName:  name,
				Details:       e.Details,
			})
		}
	}
	return out, nil
}

func parseCode(raw json.RawMessage) *int {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := strconv.Atoi(n.String()); err == nil {
			return &v
		}
		if f, err := n.Float64(); err == nil {
			v := int(f)
			return &v
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return &v
		}
	}
	return nil
}

// rawText renders a JSON value as text. Strings are unquoted, everything
// else keeps its JSON form.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
