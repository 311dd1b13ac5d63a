package mud

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Revenue sources the ledger accepts. Anything else is rejected.
const (
	SourceAffiliate = "affiliate"
	SourceAd        = "ad"
	SourcePremium   = "premium"
	SourceTip       = "tip"
)

var validSources = map[string]bool{
	SourceAffiliate: true,
	SourceAd:        true,
	SourcePremium:   true,
	SourceTip:       true,
}

var ErrInvalidAmount = errors.New("invalid amount")
var ErrUnknownSource = errors.New("unknown revenue source")
var ErrLedgerOverflow = errors.New("ledger overflow")

// Ledger tracks integer cents per source. Totals only ever grow.
type Ledger struct {
	mutex sync.Mutex
	cents map[string]int64
}

func NewLedger() *Ledger {
	return &Ledger{cents: make(map[string]int64)}
}

// Credit adds cents to a source and returns the source's new balance.
func (l *Ledger) Credit(source string, cents int64) (int64, error) {
	if cents <= 0 {
		return 0, fmt.Errorf("%w: %d cents", ErrInvalidAmount, cents)
	}
	if !validSources[source] {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	current := l.cents[source]
	if current > math.MaxInt64-cents {
		return 0, ErrLedgerOverflow
	}
	l.cents[source] = current + cents
	return l.cents[source], nil
}

// Total returns the sum across all sources.
func (l *Ledger) Total() int64 {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	var total int64
	for _, cents := range l.cents {
		total += cents
	}
	return total
}

type LedgerEntry struct {
	Source string `json:"source"`
	Cents  int64  `json:"cents"`
}

// Breakdown returns per-source balances sorted by source name. Sources that
// never earned anything are included at zero.
func (l *Ledger) Breakdown() []LedgerEntry {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	entries := make([]LedgerEntry, 0, len(validSources))
	for source := range validSources {
		entries = append(entries, LedgerEntry{Source: source, Cents: l.cents[source]})
	}
	sort.Slice(entries, func(left, right int) bool {
		return entries[left].Source < entries[right].Source
	})
	return entries
}
