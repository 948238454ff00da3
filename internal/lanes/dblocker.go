package lanes

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrLockTimeout is returned when acquiring a distributed lock times out.
var ErrLockTimeout = errors.New("lanes: lock acquisition timeout")

// Locker is the distributed-deployment variant of the session-lane contract:
// where Manager serializes one process's dispatches with an in-memory
// semaphore, Locker serializes across processes sharing one database.
type Locker interface {
	Lock(ctx context.Context, sessionID string) error
	Unlock(sessionID string)
}

// DBLockerConfig configures the DB-backed lease lock.
type DBLockerConfig struct {
	OwnerID         string
	TTL             time.Duration
	RefreshInterval time.Duration
	AcquireTimeout  time.Duration
	PollInterval    time.Duration
}

// DefaultDBLockerConfig returns default lease settings.
func DefaultDBLockerConfig() DBLockerConfig {
	return DBLockerConfig{
		TTL:             2 * time.Minute,
		RefreshInterval: 30 * time.Second,
		AcquireTimeout:  10 * time.Second,
		PollInterval:    200 * time.Millisecond,
	}
}

// DBLocker leases rows in a session_locks table so that multiple dispatcher
// processes sharing one Postgres/Cockroach backend serialize on the row
// instead of an in-memory semaphore. It satisfies Locker.
type DBLocker struct {
	db     *sql.DB
	config DBLockerConfig

	mu     sync.Mutex
	renew  map[string]context.CancelFunc
	closed bool
}

// NewDBLocker creates a DB-backed lock using the given connection.
func NewDBLocker(db *sql.DB, cfg DBLockerConfig) (*DBLocker, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if cfg.OwnerID == "" {
		return nil, errors.New("owner id is required")
	}
	defaults := DefaultDBLockerConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaults.RefreshInterval
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaults.AcquireTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	return &DBLocker{db: db, config: cfg, renew: make(map[string]context.CancelFunc)}, nil
}

// Lock acquires a lease on the session row, polling until it succeeds, the
// acquire timeout elapses, or ctx is cancelled. A successful lock starts a
// background renewal loop that keeps extending the lease until Unlock.
func (l *DBLocker) Lock(ctx context.Context, sessionID string) error {
	if l == nil {
		return errors.New("locker unavailable")
	}
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session_id is required")
	}

	deadline := time.Now().Add(l.config.AcquireTimeout)
	for {
		ok, err := l.tryAcquire(ctx, sessionID)
		if err != nil {
			return err
		}
		if ok {
			l.startRenew(sessionID)
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.config.PollInterval):
		}
	}
}

// Unlock stops renewal and deletes the lease row.
func (l *DBLocker) Unlock(sessionID string) {
	if l == nil {
		return
	}
	l.stopRenew(sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM session_locks WHERE session_id = $1 AND owner_id = $2`,
		sessionID, l.config.OwnerID,
	); err != nil {
		_ = err // best effort; the lease expires via TTL regardless
	}
}

// Close stops every renewal loop.
func (l *DBLocker) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, cancel := range l.renew {
		cancel()
	}
	l.renew = make(map[string]context.CancelFunc)
	return nil
}

func (l *DBLocker) tryAcquire(ctx context.Context, sessionID string) (bool, error) {
	now := time.Now()
	expiresAt := now.Add(l.config.TTL)
	var owner string
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO session_locks (session_id, owner_id, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id,
			acquired_at = EXCLUDED.acquired_at,
			expires_at = EXCLUDED.expires_at
		WHERE session_locks.expires_at < $3 OR session_locks.owner_id = EXCLUDED.owner_id
		RETURNING owner_id
	`, sessionID, l.config.OwnerID, now, expiresAt).Scan(&owner)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner == l.config.OwnerID, nil
}

func (l *DBLocker) startRenew(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if _, ok := l.renew[sessionID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.renew[sessionID] = cancel
	go l.renewLoop(ctx, sessionID)
}

func (l *DBLocker) stopRenew(sessionID string) {
	l.mu.Lock()
	cancel, ok := l.renew[sessionID]
	if ok {
		delete(l.renew, sessionID)
	}
	l.mu.Unlock()
	if ok {
		cancel()
	}
}

func (l *DBLocker) renewLoop(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(l.config.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.extendLease(ctx, sessionID) {
				l.stopRenew(sessionID)
				return
			}
		}
	}
}

func (l *DBLocker) extendLease(ctx context.Context, sessionID string) bool {
	expiresAt := time.Now().Add(l.config.TTL)
	result, err := l.db.ExecContext(ctx,
		`UPDATE session_locks SET expires_at = $1 WHERE session_id = $2 AND owner_id = $3`,
		expiresAt, sessionID, l.config.OwnerID,
	)
	if err != nil {
		return false
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rows > 0
}
