package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// tenantsChannel is the NOTIFY channel fired by the tenants trigger
const tenantsChannel = "tenants_changed"

//go:embed schema.sql
var schemaSQL string

// PostgresOptions tunes the connection pool
type PostgresOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// listener is the subset of *pq.Listener the change feed needs
type listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// PostgresStore implements Store interface for PostgreSQL.
// Changes are observed with LISTEN/NOTIFY on tenantsChannel.
type PostgresStore struct {
	db  *sql.DB
	dsn string

	newListener func() listener

	hub       *watchHub
	fetchMu   sync.Mutex
	startOnce sync.Once
	startErr  error

	// listenerMu guards listener and orders its start against Close
	listenerMu sync.Mutex
	listener   listener
	done       chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(dsn string, opts PostgresOptions) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return newPostgresStore(db, dsn), nil
}

func newPostgresStore(db *sql.DB, dsn string) *PostgresStore {
	s := &PostgresStore{
		db:   db,
		dsn:  dsn,
		hub:  newWatchHub(),
		done: make(chan struct{}),
	}
	s.newListener = func() listener {
		return pq.NewListener(dsn, 10*time.Second, time.Minute, s.listenerEvent)
	}
	return s
}

// Migrate creates the tenants table and its change trigger
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close stops the change feed, closes every watcher and the database connection
func (s *PostgresStore) Close() error {
	s.closeOnce.Do(func() {
		s.listenerMu.Lock()
		close(s.done)
		l := s.listener
		s.listenerMu.Unlock()

		if l != nil {
			l.Close()
		}
		s.wg.Wait()
		s.hub.close()
	})
	return s.db.Close()
}

// WatchTenants implements Store
func (s *PostgresStore) WatchTenants(ctx context.Context) (<-chan Snapshot, error) {
	if err := s.startListener(); err != nil {
		return nil, err
	}

	ch := make(chan Snapshot, 1)
	if !s.hub.add(ch) {
		return nil, ErrClosed
	}

	s.fetchMu.Lock()
	tenants, err := s.ListTenants(ctx)
	sent := err == nil && s.hub.send(ch, Snapshot{Tenants: tenants})
	s.fetchMu.Unlock()

	if err != nil {
		s.hub.remove(ch)
		return nil, fmt.Errorf("initial snapshot: %w", err)
	}
	if !sent {
		return nil, ErrClosed
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		s.hub.remove(ch)
	}()

	return ch, nil
}

// startListener opens the LISTEN connection on first use
func (s *PostgresStore) startListener() error {
	s.startOnce.Do(func() {
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()

		select {
		case <-s.done:
			s.startErr = ErrClosed
			return
		default:
		}

		l := s.newListener()
		if err := l.Listen(tenantsChannel); err != nil {
			l.Close()
			s.startErr = fmt.Errorf("listen %s: %w", tenantsChannel, err)
			return
		}
		s.listener = l

		s.wg.Add(1)
		go s.runListener(l)
	})
	return s.startErr
}

// runListener refetches the collection on every notification.
// A nil notification means pq re-established the connection and events may have been lost.
func (s *PostgresStore) runListener(l listener) {
	defer s.wg.Done()

	ticker := time.NewTicker(90 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return

		case n, ok := <-l.NotificationChannel():
			if !ok {
				return
			}
			if n == nil {
				log.Info().Msg("Tenant change feed reconnected, refreshing snapshot")
			}
			s.publishSnapshot()

		case <-ticker.C:
			go func() {
				if err := l.Ping(); err != nil {
					log.Warn().Err(err).Msg("Tenant change feed ping failed")
				}
			}()
		}
	}
}

func (s *PostgresStore) publishSnapshot() {
	if s.hub.len() == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	tenants, err := s.ListTenants(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load tenant snapshot")
		s.hub.broadcast(Snapshot{Err: err})
		return
	}
	s.hub.broadcast(Snapshot{Tenants: tenants})
}

func (s *PostgresStore) listenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnectionAttemptFailed:
		log.Warn().Err(err).Msg("Tenant change feed connection attempt failed")
	case pq.ListenerEventDisconnected:
		log.Warn().Err(err).Msg("Tenant change feed disconnected")
	case pq.ListenerEventReconnected:
		log.Info().Msg("Tenant change feed reconnected")
	}
}
