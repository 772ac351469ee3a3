package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mutecomm/go-sqlcipher/v4" // registers the sqlcipher driver
	_ "modernc.org/sqlite"

	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
	"github.com/eliteGoblin/focusd/tab_mon/internal/hostname"
	"github.com/eliteGoblin/focusd/tab_mon/internal/timeutil"
)

const (
	minDateKey = "0000-00-00"
	maxDateKey = "9999-12-31"
)

// SQLSessionStore implements domain.SessionStore on a SQLite database.
// Works with both the SQLCipher driver and the pure-Go modernc driver.
type SQLSessionStore struct {
	db     *sql.DB
	dbPath string
	clock  domain.Clock
}

// NewEncryptedSessionStore opens (or creates) an encrypted session database
// in dataDir. The key is used as the SQLCipher passphrase.
func NewEncryptedSessionStore(ctx context.Context, dataDir, file string, key []byte, clock domain.Clock) (*SQLSessionStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, file)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_busy_timeout=5000", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	return newSQLSessionStore(ctx, db, dbPath, clock)
}

// NewPlainSessionStore opens (or creates) an unencrypted session database at
// dbPath using the pure-Go driver.
func NewPlainSessionStore(ctx context.Context, dbPath string, clock domain.Clock) (*SQLSessionStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return newSQLSessionStore(ctx, db, dbPath, clock)
}

func newSQLSessionStore(ctx context.Context, db *sql.DB, dbPath string, clock domain.Clock) (*SQLSessionStore, error) {
	// One writer; SQLite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// Verify the key (if any) by touching the database
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}
	if err := NewMigrationRunner(db).Run(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &SQLSessionStore{db: db, dbPath: dbPath, clock: clock}, nil
}

// Path returns the database file path.
func (s *SQLSessionStore) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *SQLSessionStore) Close() error {
	return s.db.Close()
}

// --- sessions ---

// AddSession inserts rec, stamping CreatedAt with the current time.
func (s *SQLSessionStore) AddSession(ctx context.Context, rec domain.SessionRecord) (int64, error) {
	rec.CreatedAt = s.clock.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (url, domain, date, open_time, active_time, background_time, interaction_time, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.URL, rec.Domain, rec.Date, rec.OpenTime, rec.ActiveTime,
		rec.BackgroundTime, rec.InteractionTime, string(rec.Reason), rec.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	return res.LastInsertId()
}

// GetSessions returns sessions whose date key lies in r, oldest first.
func (s *SQLSessionStore) GetSessions(ctx context.Context, r domain.DateRange) ([]domain.SessionRecord, error) {
	start, end := r.StartDate, r.EndDate
	if start == "" {
		start = minDateKey
	}
	if end == "" {
		end = maxDateKey
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, domain, date, open_time, active_time, background_time, interaction_time, reason, created_at
		FROM sessions
		WHERE date >= ? AND date <= ?
		ORDER BY created_at, id`, start, end)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []domain.SessionRecord{}
	for rows.Next() {
		var rec domain.SessionRecord
		var reason string
		if err := rows.Scan(&rec.ID, &rec.URL, &rec.Domain, &rec.Date, &rec.OpenTime,
			&rec.ActiveTime, &rec.BackgroundTime, &rec.InteractionTime, &reason, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.Reason = domain.SessionReason(reason)
		sessions = append(sessions, rec)
	}
	return sessions, rows.Err()
}

// DeleteSessionsInRange deletes sessions created in [startMs, endMs].
// A nil start means 0 and a nil end means now.
func (s *SQLSessionStore) DeleteSessionsInRange(ctx context.Context, startMs, endMs *int64) (int64, error) {
	start := int64(0)
	if startMs != nil {
		start = *startMs
	}
	end := s.clock.Now().UnixMilli()
	if endMs != nil {
		end = *endMs
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE created_at >= ? AND created_at <= ?", start, end)
	if err != nil {
		return 0, fmt.Errorf("delete sessions in range: %w", err)
	}
	return res.RowsAffected()
}

// DeleteSessionsByDate deletes every session on dateKey.
func (s *SQLSessionStore) DeleteSessionsByDate(ctx context.Context, dateKey string) (int64, error) {
	if dateKey == "" {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE date = ?", dateKey)
	if err != nil {
		return 0, fmt.Errorf("delete sessions for %s: %w", dateKey, err)
	}
	return res.RowsAffected()
}

// DeleteSessionsByDomains deletes sessions whose domain equals one of domains,
// ignoring case.
func (s *SQLSessionStore) DeleteSessionsByDomains(ctx context.Context, domains []string) (int64, error) {
	domains = hostname.NormalizeDomains(domains)
	if len(domains) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(domains)), ",")
	args := make([]any, len(domains))
	for i, d := range domains {
		args[i] = d
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE LOWER(domain) IN ("+placeholders+")", args...)
	if err != nil {
		return 0, fmt.Errorf("delete sessions by domain: %w", err)
	}
	return res.RowsAffected()
}

// --- settings ---

// GetSettings returns the stored settings merged over defaults. The defaults
// are written on first read.
func (s *SQLSessionStore) GetSettings(ctx context.Context) (domain.Settings, error) {
	settings, found, err := s.readSettings(ctx, s.db)
	if err != nil {
		return domain.Settings{}, err
	}
	if !found {
		if err := s.writeSettings(ctx, s.db, settings); err != nil {
			return domain.Settings{}, err
		}
	}
	return settings, nil
}

// SaveSettings merges patch over the stored settings and persists the result.
func (s *SQLSessionStore) SaveSettings(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	current, _, err := s.readSettings(ctx, tx)
	if err != nil {
		return domain.Settings{}, err
	}
	merged := current.Merge(patch)
	if err := s.writeSettings(ctx, tx, merged); err != nil {
		return domain.Settings{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Settings{}, fmt.Errorf("commit settings: %w", err)
	}
	return merged, nil
}

// ResetAll removes every session and restores default settings atomically.
func (s *SQLSessionStore) ResetAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions"); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	if err := s.writeSettings(ctx, tx, domain.DefaultSettings()); err != nil {
		return err
	}
	return tx.Commit()
}

// querier is the subset of *sql.DB and *sql.Tx the settings helpers need.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// readSettings decodes the stored record over DefaultSettings so fields the
// record lacks keep their defaults.
func (s *SQLSessionStore) readSettings(ctx context.Context, q querier) (domain.Settings, bool, error) {
	settings := domain.DefaultSettings()

	var data string
	err := q.QueryRowContext(ctx, "SELECT data FROM settings WHERE id = 1").Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return settings, false, nil
	}
	if err != nil {
		return domain.Settings{}, false, fmt.Errorf("read settings: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return domain.Settings{}, false, fmt.Errorf("decode settings: %w", err)
	}
	if settings.Categories == nil {
		settings.Categories = map[string]any{}
	}
	return settings, true, nil
}

func (s *SQLSessionStore) writeSettings(ctx context.Context, q querier, settings domain.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO settings (id, data, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(data), s.clock.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Ensure SQLSessionStore implements domain.SessionStore.
var _ domain.SessionStore = (*SQLSessionStore)(nil)
