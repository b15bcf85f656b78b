// Package catalog implements the storefront's book listing, including the
// debounced live search used by interactive clients.
package catalog

import (
	"context"
	"time"

	"luminabooks/pkg/domain"
)

// DefaultDebounce is the quiet window required before a filter change turns
// into a query.
const DefaultDebounce = 300 * time.Millisecond

// QueryFunc fetches books matching a title filter.
type QueryFunc func(ctx context.Context, filter string) ([]domain.Book, error)

// Snapshot is one state emitted to the client: a query was issued (Loading)
// or settled (Books or Error set).
type Snapshot struct {
	Filter  string        `json:"filter"`
	Loading bool          `json:"loading"`
	Books   []domain.Book `json:"books,omitempty"`
	Error   string        `json:"error,omitempty"`
}

type queryResult struct {
	filter string
	books  []domain.Book
	err    error
}

// LiveSearch debounces filter input and re-queries the catalog. At most one
// query is issued per quiet window and only the last value entered in that
// window is queried. In-flight queries are not cancelled when the filter
// changes again; a late result simply overwrites earlier state, so the last
// response wins.
type LiveSearch struct {
	query QueryFunc
	delay time.Duration

	input  chan string
	snaps  chan Snapshot
	cancel context.CancelFunc
}

// NewLiveSearch starts the search loop. An initial query for the empty
// filter is issued after one quiet window, mirroring a fresh page load.
// Close must be called when the client disconnects.
func NewLiveSearch(ctx context.Context, query QueryFunc, delay time.Duration) *LiveSearch {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	ctx, cancel := context.WithCancel(ctx)
	l := &LiveSearch{
		query:  query,
		delay:  delay,
		input:  make(chan string, 8),
		snaps:  make(chan Snapshot, 8),
		cancel: cancel,
	}
	go l.run(ctx)
	return l
}

// SetFilter records a new filter value, superseding any not-yet-issued one.
func (l *LiveSearch) SetFilter(filter string) {
	select {
	case l.input <- filter:
	default:
		// Input faster than the loop can note it; drain one and retry so the
		// newest value is what survives.
		select {
		case <-l.input:
		default:
		}
		select {
		case l.input <- filter:
		default:
		}
	}
}

// Snapshots delivers loading and settled states in order. The channel is
// closed when the search loop stops.
func (l *LiveSearch) Snapshots() <-chan Snapshot {
	return l.snaps
}

// Close stops the loop.
func (l *LiveSearch) Close() {
	l.cancel()
}

func (l *LiveSearch) run(ctx context.Context) {
	defer close(l.snaps)

	pending := ""
	timer := time.NewTimer(l.delay)
	defer timer.Stop()
	results := make(chan queryResult, 4)

	for {
		select {
		case <-ctx.Done():
			return
		case filter := <-l.input:
			pending = filter
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(l.delay)
		case <-timer.C:
			l.emit(Snapshot{Filter: pending, Loading: true})
			go func(filter string) {
				books, err := l.query(ctx, filter)
				select {
				case results <- queryResult{filter: filter, books: books, err: err}:
				case <-ctx.Done():
				}
			}(pending)
		case res := <-results:
			snap := Snapshot{Filter: res.filter, Books: res.books}
			if res.err != nil {
				snap.Error = res.err.Error()
				snap.Books = nil
			}
			l.emit(snap)
		}
	}
}

func (l *LiveSearch) emit(snap Snapshot) {
	select {
	case l.snaps <- snap:
	default:
		// Slow consumer: make room so the newest state is never lost.
		select {
		case <-l.snaps:
		default:
		}
		select {
		case l.snaps <- snap:
		default:
		}
	}
}
