// Package statusindex is the indexing collaborator for the settlement core:
// it subscribes to committed ledger events and maintains a denormalized,
// TTL-bounded cache of settlement status per RequestID. It holds purely
// derived state; a cache miss falls back to the ledger, which stays the
// source of truth.
package statusindex

import (
	"time"

	"github.com/olebedev/emitter"
	gocache "github.com/patrickmn/go-cache"

	paygate "github.com/paygate-protocol/paygate/go"
)

// Status of a request as observed through ledger events. There is no other
// state at this layer: a request is either unsettled or terminally settled.
type Status string

const (
	StatusUnsettled Status = "UNSETTLED"
	StatusSettled   Status = "SETTLED"
)

// Entry is the denormalized view served for one RequestID.
type Entry struct {
	Status Status                 `json:"status"`
	Record *paygate.PaymentRecord `json:"record,omitempty"`
}

// Index consumes payment.completed events and answers status queries.
type Index struct {
	events *emitter.Emitter
	ledger *paygate.Ledger
	cache  *gocache.Cache
	sub    <-chan emitter.Event
	done   chan struct{}
}

// New subscribes to events and starts the consume loop. ttl bounds how long
// a denormalized entry is served before re-deriving from the ledger.
func New(events *emitter.Emitter, ledger *paygate.Ledger, ttl time.Duration) *Index {
	idx := &Index{
		events: events,
		ledger: ledger,
		cache:  gocache.New(ttl, 2*ttl),
		sub:    events.On(paygate.TopicPaymentCompleted),
		done:   make(chan struct{}),
	}
	go idx.run()
	return idx
}

func (i *Index) run() {
	defer close(i.done)
	for ev := range i.sub {
		completed, ok := ev.Args[0].(paygate.PaymentCompletedEvent)
		if !ok {
			continue
		}
		// The event marks the id settled; the record itself is read back
		// from the ledger so the cached snapshot carries the committed
		// timestamp.
		record := i.ledger.Record(completed.ID)
		if record == nil {
			continue
		}
		i.cache.Set(completed.ID.Hex(), Entry{Status: StatusSettled, Record: record}, gocache.DefaultExpiration)
	}
}

// Status returns the denormalized entry for id. On a cache miss the ledger
// is consulted and a settled result is re-cached.
func (i *Index) Status(id paygate.RequestID) Entry {
	if v, ok := i.cache.Get(id.Hex()); ok {
		if entry, ok := v.(Entry); ok {
			return entry
		}
	}
	if record := i.ledger.Record(id); record != nil {
		entry := Entry{Status: StatusSettled, Record: record}
		i.cache.Set(id.Hex(), entry, gocache.DefaultExpiration)
		return entry
	}
	return Entry{Status: StatusUnsettled}
}

// Close unsubscribes and waits for the consume loop to drain.
func (i *Index) Close() {
	i.events.Off(paygate.TopicPaymentCompleted, i.sub)
	<-i.done
}
