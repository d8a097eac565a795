package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/kinber/kinber/internal/logging"
)

// PGFeed receives postgres NOTIFY events on one channel. Each notification's
// payload names the changed table.
type PGFeed struct {
	dsn     string
	channel string

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func()
}

var _ Feed = (*PGFeed)(nil)

// NewPGFeed connects to dsn and listens on channel until Close.
func NewPGFeed(ctx context.Context, dsn, channel string) (*PGFeed, error) {
	conn, err := listen(ctx, dsn, channel)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	f := &PGFeed{
		dsn:     dsn,
		channel: channel,
		cancel:  cancel,
		done:    make(chan struct{}),
		subs:    make(map[string]map[int]func()),
	}
	go f.run(runCtx, conn)
	return f, nil
}

func listen(ctx context.Context, dsn, channel string) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("realtime: connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("realtime: listen %s: %w", channel, err)
	}
	return conn, nil
}

func (f *PGFeed) run(ctx context.Context, conn *pgx.Conn) {
	defer close(f.done)
	log := logging.For("realtime")
	for {
		n, err := conn.WaitForNotification(ctx)
		if err == nil {
			f.dispatch(n.Payload)
			continue
		}
		conn.Close(context.Background())
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Msg("notification connection lost, reconnecting")
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			if conn, err = listen(ctx, f.dsn, f.channel); err == nil {
				break
			}
			log.Debug().Err(err).Msg("reconnect failed")
		}
	}
}

func (f *PGFeed) dispatch(table string) {
	f.mu.Lock()
	fns := make([]func(), 0, len(f.subs[table]))
	for _, fn := range f.subs[table] {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Subscribe registers onChange for table.
func (f *PGFeed) Subscribe(table string, onChange func()) (func(), error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[table] == nil {
		f.subs[table] = make(map[int]func())
	}
	f.nextID++
	id := f.nextID
	f.subs[table][id] = onChange
	return func() {
		f.mu.Lock()
		delete(f.subs[table], id)
		f.mu.Unlock()
	}, nil
}

// Close stops listening and releases the connection.
func (f *PGFeed) Close() {
	f.cancel()
	<-f.done
}
