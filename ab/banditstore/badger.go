package banditstore

import (
	"context"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/alextanhongpin/mab/ab"
)

// DefaultBadgerPrefix namespaces the experiment keys.
const DefaultBadgerPrefix = "bandit/"

var _ Store = (*BadgerStore)(nil)

// BadgerStore keeps one key per experiment in an embedded badger database.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
	opts   *options
}

func NewBadgerStore(db *badger.DB, prefix string, opts ...Option) *BadgerStore {
	if prefix == "" {
		prefix = DefaultBadgerPrefix
	}

	return &BadgerStore{
		db:     db,
		prefix: []byte(prefix),
		opts:   newOptions(opts...),
	}
}

// OpenBadger opens a database at dir, or in memory when dir is empty.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}

	return badger.Open(opts.WithLogger(nil))
}

func (s *BadgerStore) Load(ctx context.Context) (map[string]*ab.Bandit, error) {
	raw := make(map[string][]byte)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(s.prefix); it.ValidForPrefix(s.prefix); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			name := strings.TrimPrefix(string(item.Key()), string(s.prefix))
			raw[name] = data
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.opts.decode(ctx, "badger", raw), nil
}

// Save replaces every key under the prefix in a single transaction.
func (s *BadgerStore) Save(ctx context.Context, bandits map[string]*ab.Bandit) error {
	raw, err := encode(bandits)
	if err != nil {
		return err
	}

	return writeError(s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		var stale [][]byte
		it := txn.NewIterator(opts)
		for it.Seek(s.prefix); it.ValidForPrefix(s.prefix); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}

		for name, data := range raw {
			if err := txn.Set(append(append([]byte(nil), s.prefix...), name...), data); err != nil {
				return err
			}
		}

		return nil
	}))
}
