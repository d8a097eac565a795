package realtime

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/kinber/kinber/internal/logging"
	"gorm.io/gorm"
)

// PollFeed detects changes by polling a cheap signature of the table: its row
// count and the maximum of its change column. It works on every driver.
type PollFeed struct {
	DB       *gorm.DB
	Interval time.Duration
}

var _ Feed = (*PollFeed)(nil)

// NewPollFeed returns a feed polling every interval.
func NewPollFeed(db *gorm.DB, interval time.Duration) *PollFeed {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &PollFeed{DB: db, Interval: interval}
}

type signature struct {
	N      int64
	Latest sql.NullString
}

func (p *PollFeed) signature(ctx context.Context, table string) (signature, error) {
	var sig signature
	q := fmt.Sprintf("SELECT COUNT(*) AS n, MAX(%s) AS latest FROM %s", changeColumn[table], table)
	if err := p.DB.WithContext(ctx).Raw(q).Row().Scan(&sig.N, &sig.Latest); err != nil {
		return signature{}, fmt.Errorf("realtime: poll %s: %w", table, err)
	}
	return sig, nil
}

// Subscribe starts a poller for table. The first signature is taken before
// Subscribe returns, so only later changes are reported.
func (p *PollFeed) Subscribe(table string, onChange func()) (func(), error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	last, err := p.signature(ctx, table)
	if err != nil {
		cancel()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		log := logging.For("realtime")
		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			sig, err := p.signature(ctx, table)
			if err != nil {
				if ctx.Err() == nil {
					log.Debug().Err(err).Str("table", table).Msg("poll failed")
				}
				continue
			}
			if sig != last {
				last = sig
				if ctx.Err() != nil {
					return
				}
				onChange()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}
