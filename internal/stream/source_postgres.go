package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
)

// NotifyChannel is the Postgres NOTIFY channel the schema triggers publish to.
const NotifyChannel = "plume_changes"

// PostgresSource tails the store's mutation log via LISTEN/NOTIFY on a
// dedicated connection. NOTIFY delivers payloads in commit order, which gives
// the ordered-per-key, at-least-once contract the tap relies on.
type PostgresSource struct {
	log  *slog.Logger
	conn *pgx.Conn

	ch     chan RawChange
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// NewPostgresSource opens the dedicated listening connection and starts the
// tail loop. The source is not restartable: a transport error closes it.
func NewPostgresSource(ctx context.Context, connString string, log *slog.Logger) (*PostgresSource, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("change source connect: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("change source listen: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s := &PostgresSource{
		log:    log,
		conn:   conn,
		ch:     make(chan RawChange, defaultFeedBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go s.run(loopCtx)
	return s, nil
}

func (s *PostgresSource) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.ch)

	for {
		n, err := s.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				// Fail closed: record the terminal error, stop producing.
				s.setErr(fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err))
				s.log.Error("stream.source.fail", "err", err)
			}
			_ = s.conn.Close(context.Background())
			return
		}

		var rc RawChange
		if err := json.Unmarshal([]byte(n.Payload), &rc); err != nil {
			// A malformed payload is dropped, not fatal: it corresponds to
			// a change the decoder would have filtered anyway.
			s.log.Warn("stream.source.bad_payload", "err", err)
			continue
		}

		select {
		case s.ch <- rc:
		case <-ctx.Done():
			_ = s.conn.Close(context.Background())
			return
		}
	}
}

func (s *PostgresSource) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Changes returns the ordered change stream.
func (s *PostgresSource) Changes() <-chan RawChange { return s.ch }

// Err reports the terminal error once Changes has closed.
func (s *PostgresSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the tail loop and releases the connection.
func (s *PostgresSource) Close() {
	s.cancel()
	<-s.done
}
