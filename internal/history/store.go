package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nanobeamlab/cavity-designer/go-controller/internal/params"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/sweep"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/target"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_key  TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	unit_cell    TEXT NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trials (
	session_key  TEXT NOT NULL,
	iteration    INTEGER NOT NULL,
	created_at   TEXT NOT NULL,
	params_json  TEXT NOT NULL,
	q            REAL NOT NULL,
	v            REAL NOT NULL,
	qv           REAL NOT NULL,
	resonance_nm REAL NOT NULL,
	phase        TEXT NOT NULL,
	success      INTEGER NOT NULL,
	detail       TEXT,
	PRIMARY KEY (session_key, iteration),
	FOREIGN KEY (session_key) REFERENCES sessions(session_key)
);

CREATE TABLE IF NOT EXISTS sweep_state (
	session_key  TEXT PRIMARY KEY,
	state_json   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	FOREIGN KEY (session_key) REFERENCES sessions(session_key)
);

CREATE TABLE IF NOT EXISTS decision_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_key  TEXT NOT NULL,
	iteration    INTEGER,
	action       TEXT NOT NULL,
	reason       TEXT,
	created_at   TEXT NOT NULL,
	FOREIGN KEY (session_key) REFERENCES sessions(session_key)
);
`

// #endregion schema

// #region store-struct
// Store manages trial history and sweep state in SQLite. Appends commit
// transactionally before returning, so a crash never exposes a partial
// record.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region open-session
// OpenSession finds or creates the session for the given unit cell. A
// stored session with the same config key is resumed verbatim; any other
// configuration starts an independent empty session, never a silent merge.
func (s *Store) OpenSession(cell params.UnitCell) (Session, error) {
	key := cell.ConfigKey()

	var id, cellJSON, createdStr string
	err := s.db.QueryRow(
		`SELECT session_id, unit_cell, created_at FROM sessions WHERE session_key = ?`, key,
	).Scan(&id, &cellJSON, &createdStr)

	switch {
	case err == nil:
		var stored params.UnitCell
		if uerr := json.Unmarshal([]byte(cellJSON), &stored); uerr != nil {
			return Session{}, &CorruptStateError{SessionKey: key, Cause: fmt.Errorf("unit cell: %w", uerr)}
		}
		if stored.ConfigKey() != key {
			return Session{}, &CorruptStateError{SessionKey: key, Cause: errors.New("stored unit cell does not match its session key")}
		}
		created, perr := time.Parse(time.RFC3339Nano, createdStr)
		if perr != nil {
			return Session{}, &CorruptStateError{SessionKey: key, Cause: fmt.Errorf("created_at: %w", perr)}
		}
		return Session{Key: key, ID: id, Cell: stored, CreatedAt: created, Resumed: true}, nil

	case errors.Is(err, sql.ErrNoRows):
		id = uuid.New().String()
		now := time.Now().UTC()
		cellBytes, merr := json.Marshal(cell)
		if merr != nil {
			return Session{}, fmt.Errorf("marshal unit cell: %w", merr)
		}
		_, ierr := s.db.Exec(
			`INSERT INTO sessions (session_key, session_id, unit_cell, created_at) VALUES (?, ?, ?, ?)`,
			key, id, string(cellBytes), now.Format(time.RFC3339Nano),
		)
		if ierr != nil {
			return Session{}, fmt.Errorf("insert session: %w", ierr)
		}
		return Session{Key: key, ID: id, Cell: cell, CreatedAt: now, Resumed: false}, nil

	default:
		return Session{}, fmt.Errorf("lookup session: %w", err)
	}
}

// #endregion open-session

// #region append
// Append assigns the next iteration id and persists the record durably
// before returning it.
func (s *Store) Append(sessionKey string, rec DesignRecord) (DesignRecord, error) {
	paramsJSON, err := json.Marshal(rec.Params.Canon())
	if err != nil {
		return DesignRecord{}, fmt.Errorf("marshal params: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return DesignRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var maxIter int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(iteration), 0) FROM trials WHERE session_key = ?`, sessionKey,
	).Scan(&maxIter); err != nil {
		return DesignRecord{}, fmt.Errorf("next iteration: %w", err)
	}

	rec.Iteration = maxIter + 1
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err = tx.Exec(
		`INSERT INTO trials (session_key, iteration, created_at, params_json, q, v, qv, resonance_nm, phase, success, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionKey, rec.Iteration, rec.CreatedAt.Format(time.RFC3339Nano), string(paramsJSON),
		rec.Q, rec.V, rec.QV, rec.ResonanceNM, string(rec.PhaseAtEvaluation),
		boolToInt(rec.Success), nullIfEmpty(rec.Detail),
	)
	if err != nil {
		return DesignRecord{}, fmt.Errorf("insert trial: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return DesignRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// #endregion append

// #region trials
// Trials returns the full ordered history for a session.
func (s *Store) Trials(sessionKey string) ([]DesignRecord, error) {
	rows, err := s.db.Query(
		`SELECT iteration, created_at, params_json, q, v, qv, resonance_nm, phase, success, detail
		 FROM trials WHERE session_key = ? ORDER BY iteration`, sessionKey,
	)
	if err != nil {
		return nil, fmt.Errorf("list trials: %w", err)
	}
	defer rows.Close()

	var records []DesignRecord
	for rows.Next() {
		rec, err := scanTrial(sessionKey, rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Trial retrieves a single record by iteration.
func (s *Store) Trial(sessionKey string, iteration int) (DesignRecord, error) {
	row := s.db.QueryRow(
		`SELECT iteration, created_at, params_json, q, v, qv, resonance_nm, phase, success, detail
		 FROM trials WHERE session_key = ? AND iteration = ?`, sessionKey, iteration,
	)
	return scanTrial(sessionKey, row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrial(sessionKey string, row rowScanner) (DesignRecord, error) {
	var rec DesignRecord
	var createdStr, paramsJSON, phase string
	var success int
	var detail sql.NullString

	err := row.Scan(&rec.Iteration, &createdStr, &paramsJSON, &rec.Q, &rec.V, &rec.QV,
		&rec.ResonanceNM, &phase, &success, &detail)
	if err != nil {
		return DesignRecord{}, fmt.Errorf("scan trial: %w", err)
	}

	if err := json.Unmarshal([]byte(paramsJSON), &rec.Params); err != nil {
		return DesignRecord{}, &CorruptStateError{SessionKey: sessionKey, Cause: fmt.Errorf("trial %d params: %w", rec.Iteration, err)}
	}
	created, err := time.Parse(time.RFC3339Nano, createdStr)
	if err != nil {
		return DesignRecord{}, &CorruptStateError{SessionKey: sessionKey, Cause: fmt.Errorf("trial %d created_at: %w", rec.Iteration, err)}
	}
	rec.CreatedAt = created
	rec.PhaseAtEvaluation = target.Phase(phase)
	rec.Success = success != 0
	if detail.Valid {
		rec.Detail = detail.String
	}
	return rec, nil
}

// #endregion trials

// #region sweep-state
// SaveSweepState flushes the controller snapshot synchronously.
func (s *Store) SaveSweepState(sessionKey string, st sweep.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal sweep state: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO sweep_state (session_key, state_json, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_key) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`,
		sessionKey, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save sweep state: %w", err)
	}
	return nil
}

// LoadSweepState returns the persisted controller snapshot, if any.
func (s *Store) LoadSweepState(sessionKey string) (sweep.State, bool, error) {
	var data string
	err := s.db.QueryRow(
		`SELECT state_json FROM sweep_state WHERE session_key = ?`, sessionKey,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return sweep.State{}, false, nil
	}
	if err != nil {
		return sweep.State{}, false, fmt.Errorf("load sweep state: %w", err)
	}

	var st sweep.State
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return sweep.State{}, false, &CorruptStateError{SessionKey: sessionKey, Cause: fmt.Errorf("sweep state: %w", err)}
	}
	return st, true, nil
}

// #endregion sweep-state

// #region sessions
// Sessions lists every stored session with its trial count.
func (s *Store) Sessions() ([]SessionInfo, error) {
	rows, err := s.db.Query(
		`SELECT s.session_key, s.session_id, s.unit_cell, s.created_at,
		        (SELECT COUNT(*) FROM trials t WHERE t.session_key = s.session_key)
		 FROM sessions s ORDER BY s.created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var infos []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var cellJSON, createdStr string
		if err := rows.Scan(&info.Key, &info.ID, &cellJSON, &createdStr, &info.Trials); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if err := json.Unmarshal([]byte(cellJSON), &info.Cell); err != nil {
			return nil, &CorruptStateError{SessionKey: info.Key, Cause: fmt.Errorf("unit cell: %w", err)}
		}
		info.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// #endregion sessions

// #region helpers
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
