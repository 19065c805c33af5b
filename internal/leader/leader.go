// Package leader implements active/standby coordinator leadership on
// top of a PostgreSQL session-scoped advisory lock. Each coordinator
// type (OB, WC, TTL, GC, CDC) elects independently under its own lock
// name; only the holder does work, everyone else sleeps and retries.
//
// An advisory lock is scoped to the backend session that took it, so
// Election must own a single long-lived *pgx.Conn rather than a pool
// connection that could be handed to another goroutine between calls.
package leader

import (
	"context"
	"hash/fnv"

	"github.com/jackc/pgx/v5"

	"github.com/cagojeiger/codehub-controlplane/pkg/log"
)

// Election holds (or attempts to hold) a single named advisory lock
// over a dedicated connection. It is not safe for concurrent use by
// more than one goroutine at a time.
type Election struct {
	conn     *pgx.Conn
	name     string
	lockID   int64
	isLeader bool
}

// New computes the 64-bit lock id for name and wraps conn. conn must
// be a dedicated, long-lived connection (not taken from a pgxpool),
// since the lock lives and dies with the session that acquired it.
func New(conn *pgx.Conn, name string) *Election {
	return &Election{conn: conn, name: name, lockID: lockID(name)}
}

// lockID deterministically derives a 64-bit advisory lock id from a
// coordinator name so operators never have to hand-assign lock
// numbers.
func lockID(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

// IsLeader reports whether this instance currently believes it holds
// the lock. It is a local flag, not a fresh query — call
// VerifyHolding before a state-mutating operation to rule out split
// brain after a connection hiccup.
func (e *Election) IsLeader() bool {
	return e.isLeader
}

// LockID returns the computed lock id, useful for logging/monitoring.
func (e *Election) LockID() int64 {
	return e.lockID
}

// TryAcquire attempts to take the lock without blocking. It is
// re-entrant: if this instance already believes it holds the lock, it
// returns true without issuing a query.
func (e *Election) TryAcquire(ctx context.Context) (bool, error) {
	if e.isLeader {
		return true, nil
	}

	var acquired bool
	err := e.conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", e.lockID).Scan(&acquired)
	if err != nil {
		return false, err
	}

	e.isLeader = acquired
	if acquired {
		log.WithComponent("leader").Info().
			Str("lock_name", e.name).
			Int64("lock_id", e.lockID).
			Msg("acquired leadership")
	}
	return acquired, nil
}

// Release releases the lock if this instance believes it holds it and
// is a no-op otherwise, so it is safe to call when not held. If the
// session lost the lock without this instance noticing,
// pg_advisory_unlock simply returns false.
func (e *Election) Release(ctx context.Context) error {
	if !e.isLeader {
		return nil
	}

	var released bool
	err := e.conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", e.lockID).Scan(&released)
	e.isLeader = false
	if err != nil {
		return err
	}

	log.WithComponent("leader").Info().
		Str("lock_name", e.name).
		Int64("lock_id", e.lockID).
		Bool("released", released).
		Msg("released leadership")
	return nil
}

// VerifyHolding queries pg_locks to confirm this session still owns
// the advisory lock, guarding against split brain where a dropped and
// silently re-established connection left isLeader stale. WC calls
// this immediately before every state-mutating Execute.
func (e *Election) VerifyHolding(ctx context.Context) (bool, error) {
	if !e.isLeader {
		return false, nil
	}

	// A bigint advisory lock is recorded in pg_locks split across two
	// int4 columns (classid = high 32 bits, objid = low 32 bits); the
	// classid/objid pair is recombined to compare against the lock id
	// we asked for.
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM pg_locks
			WHERE locktype = 'advisory'
			  AND pid = pg_backend_pid()
			  AND (classid::bigint << 32 | (objid::bigint & 4294967295)) = $1
		)`

	var held bool
	if err := e.conn.QueryRow(ctx, query, e.lockID).Scan(&held); err != nil {
		return false, err
	}

	if !held {
		e.isLeader = false
		log.WithComponent("leader").Warn().
			Str("lock_name", e.name).
			Int64("lock_id", e.lockID).
			Msg("lost leadership: advisory lock not held by this session")
	}
	return held, nil
}
