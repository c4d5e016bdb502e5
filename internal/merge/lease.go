package merge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	appLog "schedcal/internal/log"
	"schedcal/internal/model"
)

var (
	ErrBusy          = errors.New("a write is already in flight for this document")
	ErrLeaseReleased = errors.New("write lease already released")
)

// Persister stores a full replacement document. It is the external store
// the engine hands snapshots to.
type Persister interface {
	Save(ctx context.Context, doc model.Document) error
}

// WriteRejectedError reports that the store refused or failed a write. The
// merged snapshot must not be adopted; the caller keeps the previous one.
type WriteRejectedError struct {
	DocumentID string
	Err        error
}

func (e *WriteRejectedError) Error() string {
	return fmt.Sprintf("write to document %q rejected: %v", e.DocumentID, e.Err)
}

func (e *WriteRejectedError) Unwrap() error { return e.Err }

// Leases hands out at most one write lease per document at a time.
type Leases struct {
	mu   sync.Mutex
	held map[string]*Lease
}

func NewLeases() *Leases {
	return &Leases{held: make(map[string]*Lease)}
}

// Acquire takes the write lease for docID, or fails with ErrBusy while
// another lease on it is outstanding.
func (l *Leases) Acquire(docID string) (*Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[docID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrBusy, docID)
	}
	ls := &Lease{docID: docID, owner: l, acquiredAt: time.Now()}
	l.held[docID] = ls
	return ls, nil
}

// Busy reports whether a write on docID is in flight.
func (l *Leases) Busy(docID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[docID]
	return ok
}

func (l *Leases) release(ls *Lease) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[ls.docID] == ls {
		delete(l.held, ls.docID)
	}
}

// Lease is the right to compute and persist the next snapshot of one
// document. It is released by Commit or Release, whichever comes first.
type Lease struct {
	docID      string
	owner      *Leases
	acquiredAt time.Time

	mu       sync.Mutex
	released bool
}

// DocumentID names the leased document.
func (ls *Lease) DocumentID() string { return ls.docID }

func (ls *Lease) active() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.released {
		return ErrLeaseReleased
	}
	return nil
}

// Upsert runs ApplyUpsert under the lease.
func (ls *Lease) Upsert(doc model.Document, cat model.Category, id string, rec model.Record) (model.Document, error) {
	if err := ls.active(); err != nil {
		return doc, err
	}
	return ApplyUpsert(doc, cat, id, rec)
}

// Delete runs ApplyDelete under the lease.
func (ls *Lease) Delete(doc model.Document, cat model.Category, id string) (model.Document, error) {
	if err := ls.active(); err != nil {
		return doc, err
	}
	return ApplyDelete(doc, cat, id)
}

// Commit persists doc through p and releases the lease whether or not the
// store accepts it. A store failure comes back as *WriteRejectedError.
func (ls *Lease) Commit(ctx context.Context, p Persister, doc model.Document) error {
	if err := ls.active(); err != nil {
		return err
	}
	defer ls.Release()

	if err := p.Save(ctx, doc); err != nil {
		appLog.Error("document write rejected", err, "document", ls.docID)
		return &WriteRejectedError{DocumentID: ls.docID, Err: err}
	}
	appLog.Info("document write committed", "document", ls.docID, "held_for", time.Since(ls.acquiredAt).String())
	return nil
}

// Release gives the lease back. Releasing twice is harmless.
func (ls *Lease) Release() {
	ls.mu.Lock()
	if ls.released {
		ls.mu.Unlock()
		return
	}
	ls.released = true
	ls.mu.Unlock()
	ls.owner.release(ls)
}
