package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	p/<project>          project metadata (JSON)
//	b/<project>          base CSV bytes
//	h/<project>          head, 8-byte big endian
//	e/<project>/<seq>    record (JSON), seq zero padded to 16 digits
//
// Every value is prefixed with a 4-byte CRC32 of the rest.
const (
	prefixProject = "p/"
	prefixBase    = "b/"
	prefixHead    = "h/"
	prefixEntry   = "e/"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Dir holds the database files. Ignored when InMemory is set.
	Dir      string
	InMemory bool

	SyncWrites bool

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval     time.Duration
	GCDiscardRatio float64

	// Logger receives badger's own log output. Nil silences it.
	Logger *slog.Logger
}

// BadgerStore is an embedded, durable Store.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger

	stopGC chan struct{}
	gcDone chan struct{}
}

// OpenBadger opens or creates a badger database.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("badger journal requires a directory")
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger journal: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &BadgerStore{db: db, logger: logger}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, ratio)
	}
	return s, nil
}

// OpenBadgerInMemory opens a non-persistent store, for tests.
func OpenBadgerInMemory() (*BadgerStore, error) {
	return OpenBadger(BadgerConfig{InMemory: true})
}

func (s *BadgerStore) CreateProject(_ context.Context, p Project) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixProject + p.ID)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%w: %s", ErrProjectExists, p.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		meta := p
		meta.BaseCSV = nil
		meta.Head = 0
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode project: %w", err)
		}
		if err := txn.Set(key, seal(data)); err != nil {
			return err
		}
		if err := txn.Set([]byte(prefixBase+p.ID), seal(p.BaseCSV)); err != nil {
			return err
		}
		return setHead(txn, p.ID, 0)
	})
}

func (s *BadgerStore) Projects(_ context.Context) ([]Project, error) {
	var out []Project
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixProject)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p Project
			if err := readJSON(it.Item(), &p); err != nil {
				return fmt.Errorf("project %s: %w", it.Item().Key()[len(prefix):], err)
			}
			head, err := getHead(txn, p.ID)
			if err != nil {
				return err
			}
			p.Head = head
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortProjects(out)
	return out, nil
}

func (s *BadgerStore) Project(_ context.Context, id string) (Project, error) {
	var p Project
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixProject + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
		}
		if err != nil {
			return err
		}
		if err := readJSON(item, &p); err != nil {
			return err
		}

		item, err = txn.Get([]byte(prefixBase + id))
		if err != nil {
			return fmt.Errorf("read base of %s: %w", id, err)
		}
		if p.BaseCSV, err = readValue(item); err != nil {
			return err
		}
		p.Head, err = getHead(txn, id)
		return err
	})
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

func (s *BadgerStore) DeleteProject(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(prefixProject + id)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
		} else if err != nil {
			return err
		}
		if err := deleteEntriesFrom(txn, id, 1); err != nil {
			return err
		}
		for _, k := range []string{prefixProject, prefixBase, prefixHead} {
			if err := txn.Delete([]byte(k + id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) Append(_ context.Context, rec Record) error {
	return s.db.Update(func(txn *badger.Txn) error {
		head, err := getHead(txn, rec.ProjectID)
		if err != nil {
			return err
		}
		if rec.Seq != head+1 {
			return fmt.Errorf("%w: record %d after head %d", ErrSequence, rec.Seq, head)
		}
		if err := deleteEntriesFrom(txn, rec.ProjectID, rec.Seq); err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		if err := txn.Set(entryKey(rec.ProjectID, rec.Seq), seal(data)); err != nil {
			return err
		}
		return setHead(txn, rec.ProjectID, rec.Seq)
	})
}

func (s *BadgerStore) SetHead(_ context.Context, projectID string, head int) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := getHead(txn, projectID); err != nil {
			return err
		}
		n := 0
		if err := iterateEntries(txn, projectID, false, func(*badger.Item) error {
			n++
			return nil
		}); err != nil {
			return err
		}
		if head < 0 || head > n {
			return fmt.Errorf("%w: head %d with %d records", ErrSequence, head, n)
		}
		return setHead(txn, projectID, head)
	})
}

func (s *BadgerStore) Entries(_ context.Context, projectID string) ([]Record, error) {
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := getHead(txn, projectID); err != nil {
			return err
		}
		return iterateEntries(txn, projectID, true, func(item *badger.Item) error {
			var rec Record
			if err := readJSON(item, &rec); err != nil {
				return fmt.Errorf("entry %s: %w", item.Key(), err)
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// Close stops GC and closes the database.
func (s *BadgerStore) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
		s.stopGC = nil
	}
	return s.db.Close()
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err == nil {
				s.logger.Debug("journal value log GC completed")
			} else if !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("journal value log GC failed", "error", err)
			}
		}
	}
}

func entryPrefix(projectID string) []byte {
	return []byte(prefixEntry + projectID + "/")
}

func entryKey(projectID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s/%016d", prefixEntry, projectID, seq))
}

func iterateEntries(txn *badger.Txn, projectID string, values bool, fn func(*badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = values
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := entryPrefix(projectID)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := fn(it.Item()); err != nil {
			return err
		}
	}
	return nil
}

// deleteEntriesFrom removes records with seq >= from.
func deleteEntriesFrom(txn *badger.Txn, projectID string, from int) error {
	var keys [][]byte
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
	start := entryKey(projectID, from)
	prefix := entryPrefix(projectID)
	for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func getHead(txn *badger.Txn, projectID string) (int, error) {
	item, err := txn.Get([]byte(prefixHead + projectID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	if err != nil {
		return 0, err
	}
	val, err := readValue(item)
	if err != nil {
		return 0, err
	}
	if len(val) != 8 {
		return 0, fmt.Errorf("%w: head of %s has %d bytes", ErrCorrupted, projectID, len(val))
	}
	return int(binary.BigEndian.Uint64(val)), nil
}

func setHead(txn *badger.Txn, projectID string, head int) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(head))
	return txn.Set([]byte(prefixHead+projectID), seal(buf))
}

// seal prepends a CRC32 checksum to data.
func seal(data []byte) []byte {
	out := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(out[:4], crc32.ChecksumIEEE(data))
	copy(out[4:], data)
	return out
}

// readValue returns an item's value with its checksum verified and removed.
func readValue(item *badger.Item) ([]byte, error) {
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: %s too short", ErrCorrupted, item.Key())
	}
	stored := binary.BigEndian.Uint32(raw[:4])
	if computed := crc32.ChecksumIEEE(raw[4:]); computed != stored {
		return nil, fmt.Errorf("%w: %s stored=%08x computed=%08x", ErrCorrupted, item.Key(), stored, computed)
	}
	return raw[4:], nil
}

func readJSON(item *badger.Item, v any) error {
	data, err := readValue(item)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// badgerLogger adapts slog to badger's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
