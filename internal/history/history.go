// Package history keeps the linear undo/redo history of one project's
// dataset and mirrors it into a journal.Store.
//
// Every operation runs inside dataset.Update, so applying or reverting a
// change and recording it in the journal happen under the dataset's exclusive
// lock and are seen atomically by readers. If the journal write fails the
// dataset change is rolled back before the lock is released.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/colextract/internal/dataset"
	"github.com/JonMunkholm/colextract/internal/journal"
	"github.com/JonMunkholm/colextract/internal/metrics"
)

var (
	// ErrNothingToUndo is returned by Undo at the start of history.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrNothingToRedo is returned by Redo at the end of history.
	ErrNothingToRedo = errors.New("nothing to redo")

	// ErrUnknownKind is returned when a journal record has no registered decoder.
	ErrUnknownKind = errors.New("unknown change kind")
)

// Change is a reversible structural edit of a dataset.
type Change interface {
	json.Marshaler

	// Kind selects the decoder used when the change is read back.
	Kind() string

	ApplyTx(tx *dataset.Tx) error
	RevertTx(tx *dataset.Tx) error
}

// Decoder rebuilds a change from its journal payload. It must return the
// change in its unapplied state.
type Decoder func(payload []byte) (Change, error)

var (
	decodersMu sync.RWMutex
	decoders   = make(map[string]Decoder)
)

// RegisterKind registers the decoder for a change kind. Panics if the kind
// is already registered.
func RegisterKind(kind string, d Decoder) {
	decodersMu.Lock()
	defer decodersMu.Unlock()
	if _, exists := decoders[kind]; exists {
		panic(fmt.Sprintf("history: change kind already registered: %s", kind))
	}
	decoders[kind] = d
}

// Kinds returns the registered change kinds, sorted.
func Kinds() []string {
	decodersMu.RLock()
	defer decodersMu.RUnlock()
	out := make([]string, 0, len(decoders))
	for k := range decoders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Decode rebuilds a change of the given kind.
func Decode(kind string, payload []byte) (Change, error) {
	decodersMu.RLock()
	d, ok := decoders[kind]
	decodersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return d(payload)
}

// Entry describes one history entry.
type Entry struct {
	Seq         int       `json:"seq"`
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	Applied     bool      `json:"applied"`
}

type entry struct {
	id          string
	description string
	createdAt   time.Time
	change      Change
}

// History is the undo/redo stack of one dataset.
type History struct {
	projectID string
	ds        *dataset.Dataset
	store     journal.Store

	mu      sync.Mutex
	entries []entry
	head    int
}

// New creates an empty history for a dataset whose project already exists
// in store with no records.
func New(projectID string, ds *dataset.Dataset, store journal.Store) *History {
	return &History{projectID: projectID, ds: ds, store: store}
}

// Replay rebuilds the history of a project from its journal records by
// applying records 1..head to ds, which must hold the project's base table.
// Records after head are decoded and kept for redo. A record that cannot be
// decoded or applied stops the replay.
func Replay(projectID string, ds *dataset.Dataset, store journal.Store, records []journal.Record, head int) (*History, error) {
	if head < 0 || head > len(records) {
		return nil, fmt.Errorf("head %d outside %d records", head, len(records))
	}

	h := New(projectID, ds, store)
	for i, rec := range records {
		if rec.Seq != i+1 {
			return nil, fmt.Errorf("record %d has sequence %d", i+1, rec.Seq)
		}
		change, err := Decode(rec.Kind, rec.Payload)
		if err != nil {
			return nil, fmt.Errorf("decode record %d: %w", rec.Seq, err)
		}
		if i < head {
			if err := ds.Update(change.ApplyTx); err != nil {
				metrics.RecordHistoryOp("replay", err)
				return nil, fmt.Errorf("replay record %d: %w", rec.Seq, err)
			}
		}
		h.entries = append(h.entries, entry{
			id:          rec.ID,
			description: rec.Description,
			createdAt:   rec.CreatedAt,
			change:      change,
		})
	}
	h.head = head
	metrics.RecordHistoryOp("replay", nil)
	return h, nil
}

// Dataset returns the dataset the history edits.
func (h *History) Dataset() *dataset.Dataset { return h.ds }

// Add applies change, records it after the current head and discards the
// redo tail. It returns the new entry.
func (h *History) Add(ctx context.Context, description string, change Change) (Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := entry{
		id:          uuid.NewString(),
		description: description,
		createdAt:   time.Now().UTC(),
		change:      change,
	}
	seq := h.head + 1

	err := h.ds.Update(func(tx *dataset.Tx) error {
		if err := change.ApplyTx(tx); err != nil {
			return fmt.Errorf("apply: %w", err)
		}
		payload, err := change.MarshalJSON()
		if err == nil {
			err = h.store.Append(ctx, journal.Record{
				ProjectID:   h.projectID,
				Seq:         seq,
				ID:          e.id,
				Kind:        change.Kind(),
				Description: description,
				Payload:     payload,
				CreatedAt:   e.createdAt,
			})
		}
		if err != nil {
			if rerr := change.RevertTx(tx); rerr != nil {
				return errors.Join(fmt.Errorf("persist: %w", err), fmt.Errorf("roll back: %w", rerr))
			}
			return fmt.Errorf("persist: %w", err)
		}
		return nil
	})
	metrics.RecordHistoryOp("add", err)
	if err != nil {
		return Entry{}, err
	}

	h.entries = append(h.entries[:h.head], e)
	h.head = seq
	return h.describe(seq - 1), nil
}

// Undo reverts the entry at the head.
func (h *History) Undo(ctx context.Context) (Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.head == 0 {
		return Entry{}, ErrNothingToUndo
	}
	e := h.entries[h.head-1]

	err := h.ds.Update(func(tx *dataset.Tx) error {
		if err := e.change.RevertTx(tx); err != nil {
			return fmt.Errorf("revert: %w", err)
		}
		if err := h.store.SetHead(ctx, h.projectID, h.head-1); err != nil {
			if rerr := e.change.ApplyTx(tx); rerr != nil {
				return errors.Join(fmt.Errorf("persist: %w", err), fmt.Errorf("roll back: %w", rerr))
			}
			return fmt.Errorf("persist: %w", err)
		}
		return nil
	})
	metrics.RecordHistoryOp("undo", err)
	if err != nil {
		return Entry{}, err
	}

	h.head--
	return h.describe(h.head), nil
}

// Redo re-applies the entry after the head.
func (h *History) Redo(ctx context.Context) (Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.head == len(h.entries) {
		return Entry{}, ErrNothingToRedo
	}
	e := h.entries[h.head]

	err := h.ds.Update(func(tx *dataset.Tx) error {
		if err := e.change.ApplyTx(tx); err != nil {
			return fmt.Errorf("apply: %w", err)
		}
		if err := h.store.SetHead(ctx, h.projectID, h.head+1); err != nil {
			if rerr := e.change.RevertTx(tx); rerr != nil {
				return errors.Join(fmt.Errorf("persist: %w", err), fmt.Errorf("roll back: %w", rerr))
			}
			return fmt.Errorf("persist: %w", err)
		}
		return nil
	})
	metrics.RecordHistoryOp("redo", err)
	if err != nil {
		return Entry{}, err
	}

	h.head++
	return h.describe(h.head - 1), nil
}

// Entries lists every entry, oldest first. Entries after the head are the
// redo tail and have Applied false.
func (h *History) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.entries))
	for i := range h.entries {
		out[i] = h.describe(i)
	}
	return out
}

// Head returns the number of applied entries.
func (h *History) Head() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.head
}

func (h *History) describe(i int) Entry {
	e := h.entries[i]
	return Entry{
		Seq:         i + 1,
		ID:          e.id,
		Kind:        e.change.Kind(),
		Description: e.description,
		CreatedAt:   e.createdAt,
		Applied:     i < h.head,
	}
}
