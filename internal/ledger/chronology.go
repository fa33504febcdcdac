package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Entry is the part of a trip the balance chain cares about.
type Entry struct {
	TripID    string
	Date      time.Time
	CreatedAt time.Time
	Balance   decimal.Decimal
}

func (e Entry) before(o Entry) bool {
	if !e.Date.Equal(o.Date) {
		return e.Date.Before(o.Date)
	}
	if !e.CreatedAt.Equal(o.CreatedAt) {
		return e.CreatedAt.Before(o.CreatedAt)
	}
	return e.TripID < o.TripID
}

// Chronology keeps one driver's trips ordered by (date, creation time).
// It is not safe for concurrent use.
type Chronology struct {
	entries []Entry
}

// NewChronology builds a chronology from entries in any order.
func NewChronology(entries ...Entry) *Chronology {
	c := &Chronology{}
	for _, e := range entries {
		c.Upsert(e)
	}
	return c
}

// Len returns the number of entries.
func (c *Chronology) Len() int { return len(c.entries) }

// Entries returns a copy of the entries in chronological order.
func (c *Chronology) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}

// Upsert inserts e, replacing any existing entry for the same trip.
func (c *Chronology) Upsert(e Entry) {
	c.Remove(e.TripID)
	i := sort.Search(len(c.entries), func(i int) bool { return e.before(c.entries[i]) })
	c.entries = append(c.entries, Entry{})
	copy(c.entries[i+1:], c.entries[i:])
	c.entries[i] = e
}

// Remove deletes the entry for tripID. It reports whether one was present.
func (c *Chronology) Remove(tripID string) bool {
	for i, e := range c.entries {
		if e.TripID == tripID {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return true
		}
	}
	return false
}

// LatestBefore returns the most recent entry dated strictly before date.
// Entries sharing a date are ordered by creation time, so the latest created wins.
func (c *Chronology) LatestBefore(date time.Time) (Entry, bool) {
	i := sort.Search(len(c.entries), func(i int) bool { return !c.entries[i].Date.Before(date) })
	if i == 0 {
		return Entry{}, false
	}
	return c.entries[i-1], true
}

// Latest returns the most recent entry overall.
func (c *Chronology) Latest() (Entry, bool) {
	if len(c.entries) == 0 {
		return Entry{}, false
	}
	return c.entries[len(c.entries)-1], true
}

// PreviousBalance resolves the balance a trip dated date starts from: the balance of
// the latest earlier entry, or fallback when the driver has none.
func (c *Chronology) PreviousBalance(date time.Time, fallback decimal.Decimal) decimal.Decimal {
	if e, ok := c.LatestBefore(date); ok {
		return e.Balance
	}
	return fallback
}
