package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	_ "modernc.org/sqlite"
)

// logSchema is the persisted layout of the event log. The table is
// append-only: rows are never updated or deleted, and seq is the sole total
// order over facts.
const logSchema = `
CREATE TABLE IF NOT EXISTS events (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id         TEXT    NOT NULL UNIQUE,
	event_type       TEXT    NOT NULL,
	schema_version   INTEGER NOT NULL,
	event_timestamp  INTEGER NOT NULL,
	aggregate_type   TEXT    NOT NULL,
	aggregate_id     TEXT    NOT NULL,
	payload          TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type, seq);
CREATE INDEX IF NOT EXISTS idx_events_aggregate ON events(aggregate_type, aggregate_id, seq);
`

// Log is the durable, append-only, strictly-ordered store of facts, backed
// by a single sqlite file. It assumes one process appends at a time (the
// host tool is a local, single-user application), but each append is still
// atomic with respect to process termination: a crash leaves either the
// prior state or the fully written new event, never a truncated one.
//
// Idempotency is enforced one layer up, by the callers deciding whether to
// append; the log guarantees ordering and durability only.
type Log struct {
	db *sql.DB
}

// OpenLog opens (creating if necessary) the event log at the given path.
func OpenLog(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cannot open event log %q: %w", path, err)
	}
	// A single connection serializes all statements: there is one writer.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL", // appends must survive power loss
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("cannot configure event log %q: %w", path, err)
		}
	}
	if _, err := db.Exec(logSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot create event log schema in %q: %w", path, err)
	}
	return &Log{db: db}, nil
}

// Close releases the underlying database.
func (l *Log) Close() error { return l.db.Close() }

// Append assigns the next sequence number and durably persists the event as
// a single atomic unit. It fails with a WriteFailure if the underlying
// medium cannot guarantee durability, in which case nothing partially
// visible is left behind.
func (l *Log) Append(ctx context.Context, e Event) (uint64, error) {
	if e.Payload == nil {
		return 0, invalidf(e.Type, "payload", "is required")
	}
	if err := e.Payload.validate(); err != nil {
		return 0, err
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return 0, fmt.Errorf("cannot marshal %s payload: %w", e.Type, err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &WriteFailure{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (event_id, event_type, schema_version, event_timestamp, aggregate_type, aggregate_id, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), e.Version, e.Timestamp.UTC().UnixMilli(), e.AggregateType, e.AggregateID, string(payload))
	if err != nil {
		return 0, &WriteFailure{Op: "insert", Err: err}
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, &WriteFailure{Op: "insert", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &WriteFailure{Op: "commit", Err: err}
	}
	return uint64(seq), nil
}

const eventColumns = "seq, event_id, event_type, schema_version, event_timestamp, aggregate_type, aggregate_id, payload"

// ReadFrom returns up to limit events with a sequence number strictly
// greater than after, in sequence order. It is the primitive for
// incremental replay: finite, and restartable from any checkpoint.
func (l *Log) ReadFrom(ctx context.Context, after uint64, limit int) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE seq > ? ORDER BY seq LIMIT ?", after, limit)
	if err != nil {
		return nil, fmt.Errorf("cannot read events after seq %d: %w", after, err)
	}
	return scanEvents(rows)
}

// ReadByType returns up to limit events of the given type with a sequence
// number strictly greater than after, in sequence order. It lets external
// collaborators (e.g. the duplicate classifier building training examples
// from decision events) consume a slice of the log without exposing all of
// it.
func (l *Log) ReadByType(ctx context.Context, t Type, after uint64, limit int) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE event_type = ? AND seq > ? ORDER BY seq LIMIT ?", string(t), after, limit)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s events: %w", t, err)
	}
	return scanEvents(rows)
}

// ReadByAggregate returns every event about one aggregate, in sequence
// order: the full history of a single transaction or budget.
func (l *Log) ReadByAggregate(ctx context.Context, kind, id string) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE aggregate_type = ? AND aggregate_id = ? ORDER BY seq", kind, id)
	if err != nil {
		return nil, fmt.Errorf("cannot read history of %s %q: %w", kind, id, err)
	}
	return scanEvents(rows)
}

// HasAggregate reports whether at least one event about the aggregate
// exists. Importer and backfill use it to decide whether to append.
func (l *Log) HasAggregate(ctx context.Context, kind, id string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx,
		"SELECT 1 FROM events WHERE aggregate_type = ? AND aggregate_id = ? LIMIT 1", kind, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cannot probe %s %q: %w", kind, id, err)
	}
	return true, nil
}

// HasEvent reports whether an event with the given id is already in the
// log. Event imports use it to skip events a previous run already brought
// in.
func (l *Log) HasEvent(ctx context.Context, id string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx, "SELECT 1 FROM events WHERE event_id = ? LIMIT 1", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cannot probe event %q: %w", id, err)
	}
	return true, nil
}

// LastSeq returns the highest assigned sequence number, 0 when empty.
func (l *Log) LastSeq(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	if err := l.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM events").Scan(&seq); err != nil {
		return 0, fmt.Errorf("cannot read last seq: %w", err)
	}
	return uint64(seq.Int64), nil
}

// Count returns the total number of events in the log.
func (l *Log) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("cannot count events: %w", err)
	}
	return n, nil
}

// readPageSize is the page used by the full-scan iterator.
const readPageSize = 500

// All iterates over every event in sequence order, reading by pages.
func (l *Log) All(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		var after uint64
		for {
			events, err := l.ReadFrom(ctx, after, readPageSize)
			if err != nil {
				yield(Event{}, err)
				return
			}
			if len(events) == 0 {
				return
			}
			for _, e := range events {
				after = e.Seq
				if !yield(e, nil) {
					return
				}
			}
		}
	}
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var (
			e       Event
			typ     string
			millis  int64
			payload string
		)
		if err := rows.Scan(&e.Seq, &e.ID, &typ, &e.Version, &millis, &e.AggregateType, &e.AggregateID, &payload); err != nil {
			return nil, fmt.Errorf("cannot scan event row: %w", err)
		}
		e.Type = Type(typ)
		e.Timestamp = time.UnixMilli(millis).UTC()
		p, err := decodePayload(e.Type, e.Version, []byte(payload))
		if err != nil {
			return nil, err
		}
		e.Payload = p
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cannot read event rows: %w", err)
	}
	return events, nil
}
