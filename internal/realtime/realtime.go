// Package realtime reports changes to database tables. Each subscription is
// owned by its caller and ends when the returned unsubscribe function runs.
package realtime

import (
	"fmt"
	"sync"
)

// Feed delivers change notifications for a table.
type Feed interface {
	// Subscribe calls onChange after each observed change to table until
	// unsubscribe is called. A change racing with unsubscribe may still be
	// delivered once; subscribers drop calls that arrive after they close.
	Subscribe(table string, onChange func()) (unsubscribe func(), err error)
}

// changeColumn names the column whose maximum moves when a table changes.
var changeColumn = map[string]string{
	"threads":  "updated_at",
	"messages": "created_at",
	"agents":   "created_at",
	"profiles": "updated_at",
}

func checkTable(table string) error {
	if _, ok := changeColumn[table]; !ok {
		return fmt.Errorf("realtime: unknown table %q", table)
	}
	return nil
}

// Local is an in-process feed driven by explicit Notify calls.
type Local struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func()
}

var _ Feed = (*Local)(nil)

// Subscribe registers onChange for table.
func (l *Local) Subscribe(table string, onChange func()) (func(), error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subs == nil {
		l.subs = make(map[string]map[int]func())
	}
	if l.subs[table] == nil {
		l.subs[table] = make(map[int]func())
	}
	l.nextID++
	id := l.nextID
	l.subs[table][id] = onChange
	return func() {
		l.mu.Lock()
		delete(l.subs[table], id)
		l.mu.Unlock()
	}, nil
}

// Notify reports a change to table.
func (l *Local) Notify(table string) {
	l.mu.Lock()
	fns := make([]func(), 0, len(l.subs[table]))
	for _, fn := range l.subs[table] {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Subscribers reports how many subscriptions table has.
func (l *Local) Subscribers(table string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs[table])
}
