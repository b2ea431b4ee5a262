// Package leaderelection runs a task on exactly one instance at a time,
// using a Postgres session-scoped advisory lock.
//
// The lock is held for the lifetime of a dedicated connection; there is no
// renewal or TTL. If the connection dies, Postgres releases the lock
// server-side. The heartbeat ping only detects local connection death so
// the leader stops its task promptly.
package leaderelection

import (
	"context"
	"database/sql"
	"hash/fnv"
	"log"
	"sync"
	"time"
)

// MetricsSink records leader election metrics. Methods must be non-blocking.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
}

const (
	DefaultRetryInterval     = 5 * time.Second
	DefaultHeartbeatInterval = 2 * time.Second
)

// Elector runs task while this instance holds the advisory lock.
type Elector struct {
	db                *sql.DB
	lockKey           int64
	retryInterval     time.Duration // follower: how often to attempt lock acquisition
	heartbeatInterval time.Duration // leader: how often to ping the dedicated connection
	task              func(ctx context.Context)
	metrics           MetricsSink // optional, nil = disabled
}

// New creates an Elector. task runs in its own goroutine after the lock is
// acquired; its context is cancelled when leadership is lost and the
// elector waits for it to return before retrying.
func New(db *sql.DB, lockKey int64, task func(ctx context.Context)) *Elector {
	return &Elector{
		db:                db,
		lockKey:           lockKey,
		retryInterval:     DefaultRetryInterval,
		heartbeatInterval: DefaultHeartbeatInterval,
		task:              task,
	}
}

// LockKey derives a stable advisory lock key from a name.
func LockKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

func (e *Elector) WithIntervals(retry, heartbeat time.Duration) *Elector {
	if retry > 0 {
		e.retryInterval = retry
	}
	if heartbeat > 0 {
		e.heartbeatInterval = heartbeat
	}
	return e
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run starts the election loop. It blocks until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	log.Printf("leader: starting election loop (lock_key=%d, retry=%s, heartbeat=%s)",
		e.lockKey, e.retryInterval, e.heartbeatInterval)

	for {
		reason := e.runOnce(ctx)
		if ctx.Err() != nil {
			log.Println("leader: election loop stopped")
			return
		}
		if reason != "" {
			log.Printf("leader: lost leadership (reason=%s), will retry in %s", reason, e.retryInterval)
		}

		select {
		case <-ctx.Done():
			log.Println("leader: election loop stopped")
			return
		case <-time.After(e.retryInterval):
		}
	}
}

// runOnce attempts to acquire the advisory lock and hold it.
// Returns the reason leadership was lost ("" if the lock was not acquired).
func (e *Elector) runOnce(ctx context.Context) string {
	if ctx.Err() != nil {
		return ""
	}

	// Advisory lock is session-scoped: must use a dedicated connection.
	conn, err := e.db.Conn(ctx)
	if err != nil {
		log.Printf("leader: failed to acquire dedicated connection: %v", err)
		return ""
	}
	defer conn.Close()

	var acquired bool
	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", e.lockKey).Scan(&acquired)
	if err != nil {
		log.Printf("leader: advisory lock query failed: %v", err)
		return ""
	}
	if !acquired {
		return ""
	}

	log.Printf("leader: acquired advisory lock %d", e.lockKey)
	e.setLeader(true)

	taskCtx, cancelTask := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.task(taskCtx)
	}()

	reason := e.holdLock(ctx, conn)

	cancelTask()
	wg.Wait()
	e.setLeader(false)

	if reason != "shutdown" {
		// Best effort; a dead connection has released the lock already.
		unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		conn.ExecContext(unlockCtx, "SELECT pg_advisory_unlock($1)", e.lockKey)
		cancel()
	}
	log.Printf("leader: released advisory lock %d", e.lockKey)
	return reason
}

// holdLock blocks while pinging the dedicated connection.
func (e *Elector) holdLock(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return "shutdown"
				}
				log.Printf("leader: dedicated connection ping failed: %v", err)
				return "conn_lost"
			}
		}
	}
}

func (e *Elector) setLeader(isLeader bool) {
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(isLeader)
	}
}
