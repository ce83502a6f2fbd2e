package feedback

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"

	"jobinsights/internal/domain"
	"jobinsights/internal/storage/sqlite"
)

// Log persists corrections. Load returns them in insertion order.
type Log interface {
	Load(ctx context.Context) ([]domain.Correction, error)
	Append(ctx context.Context, c domain.Correction) error
	Close() error
}

// logFile is the subset of *os.File the JSONL log writes through.
type logFile interface {
	io.Writer
	Sync() error
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	Close() error
}

// JSONLLog stores one JSON object per line. Lines are only ever appended.
// A failed append is cut back so the file always ends on a whole record.
type JSONLLog struct {
	path     string
	openFile func(path string) (logFile, error)

	mu sync.Mutex
	f  logFile
}

func NewJSONLLog(path string) *JSONLLog {
	return &JSONLLog{path: path, openFile: openAppendOnly}
}

func openAppendOnly(path string) (logFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (l *JSONLLog) Path() string { return l.path }

func (l *JSONLLog) Load(ctx context.Context) ([]domain.Correction, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.MarkStore(err, "open feedback log")
	}
	defer f.Close()

	var out []domain.Correction
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var c domain.Correction
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "%s: corrupt record on line %d", l.path, line), domain.ErrStore)
		}
		out = append(out, c)
	}
	if err := sc.Err(); err != nil {
		return nil, domain.MarkStore(err, "read feedback log")
	}
	return out, nil
}

// Append writes c as a single line and fsyncs before returning.
func (l *JSONLLog) Append(ctx context.Context, c domain.Correction) error {
	data, err := json.Marshal(c)
	if err != nil {
		return domain.MarkStore(err, "encode correction")
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
			return domain.MarkStore(err, "create feedback directory")
		}
		f, err := l.openFile(l.path)
		if err != nil {
			return domain.MarkStore(err, "open feedback log for append")
		}
		l.f = f
	}
	info, err := l.f.Stat()
	if err != nil {
		return domain.MarkStore(err, "stat feedback log")
	}
	if _, err := l.f.Write(data); err != nil {
		return l.rollback(info.Size(), err, "write correction")
	}
	if err := l.f.Sync(); err != nil {
		return l.rollback(info.Size(), err, "sync feedback log")
	}
	return nil
}

// rollback truncates a partially written record and drops the handle so
// the next Append reopens the file. Callers hold l.mu.
func (l *JSONLLog) rollback(size int64, cause error, msg string) error {
	err := errors.CombineErrors(cause, l.f.Truncate(size))
	err = errors.CombineErrors(err, l.f.Close())
	l.f = nil
	return domain.MarkStore(err, msg)
}

func (l *JSONLLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// SQLiteLog stores corrections in the classification_corrections table.
type SQLiteLog struct {
	db     *sql.DB
	ownsDB bool
}

// NewSQLiteLog uses an already initialised database. The caller keeps
// ownership of db.
func NewSQLiteLog(db *sql.DB) *SQLiteLog {
	return &SQLiteLog{db: db}
}

// OpenSQLiteLog initialises the database at path and owns it.
func OpenSQLiteLog(path string) (*SQLiteLog, error) {
	db, err := sqlite.InitDB(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteLog{db: db, ownsDB: true}, nil
}

func (l *SQLiteLog) Load(ctx context.Context) ([]domain.Correction, error) {
	return sqlite.ListCorrections(ctx, l.db)
}

func (l *SQLiteLog) Append(ctx context.Context, c domain.Correction) error {
	return sqlite.InsertCorrection(ctx, l.db, c)
}

func (l *SQLiteLog) Close() error {
	if !l.ownsDB {
		return nil
	}
	return l.db.Close()
}

// MemoryLog keeps corrections in memory only. FailNext makes the next
// Append fail, which tests use to exercise persistence errors.
type MemoryLog struct {
	mu       sync.Mutex
	records  []domain.Correction
	FailNext error
}

func NewMemoryLog(seed ...domain.Correction) *MemoryLog {
	return &MemoryLog{records: append([]domain.Correction(nil), seed...)}
}

func (l *MemoryLog) Load(context.Context) ([]domain.Correction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Correction(nil), l.records...), nil
}

func (l *MemoryLog) Append(_ context.Context, c domain.Correction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailNext != nil {
		err := l.FailNext
		l.FailNext = nil
		return domain.MarkStore(err, "append correction")
	}
	l.records = append(l.records, c)
	return nil
}

func (l *MemoryLog) Close() error { return nil }
