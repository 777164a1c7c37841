// Package banditstore persists named bandits. Every store writes the same
// record format produced by the ab codec, so data can move between backends.
package banditstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alextanhongpin/mab/ab"
)

// ErrWrite wraps any failure to persist bandits.
var ErrWrite = errors.New("banditstore: write failed")

// Store loads and saves the full mapping of experiment name to bandit.
//
// Load never fails on missing or corrupt data: it logs a warning and returns
// what it could read, possibly an empty map. Transport failures, such as a
// lost connection, are returned. Save replaces the stored mapping and wraps
// failures with ErrWrite.
type Store interface {
	Load(ctx context.Context) (map[string]*ab.Bandit, error)
	Save(ctx context.Context, bandits map[string]*ab.Bandit) error
}

type Option func(*options)

type options struct {
	logger *slog.Logger
	opts   []ab.Option
}

func newOptions(opts ...Option) *options {
	o := &options{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	return o
}

// WithLogger sets the logger used to report corrupt data.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBanditOptions applies the options to every loaded bandit.
func WithBanditOptions(opts ...ab.Option) Option {
	return func(o *options) {
		o.opts = append(o.opts, opts...)
	}
}

// decode turns the raw JSON records of an entry-per-experiment store into
// bandits. Entries that fail to decode are skipped with a warning.
func (o *options) decode(ctx context.Context, store string, raw map[string][]byte) map[string]*ab.Bandit {
	return decodeEntries(ctx, o, store, raw, func(data []byte, rec *ab.Record) error {
		return rec.UnmarshalJSON(data)
	})
}

func decodeEntries[T any](ctx context.Context, o *options, store string, raw map[string]T, unmarshal func(T, *ab.Record) error) map[string]*ab.Bandit {
	bandits := make(map[string]*ab.Bandit, len(raw))
	for name, data := range raw {
		var rec ab.Record
		if err := unmarshal(data, &rec); err != nil {
			o.corrupt(ctx, store, name, err)
			continue
		}

		b, err := ab.Decode(rec, o.opts...)
		if err != nil {
			o.corrupt(ctx, store, name, err)
			continue
		}
		bandits[name] = b
	}

	return bandits
}

func (o *options) corrupt(ctx context.Context, store, name string, err error) {
	o.logger.WarnContext(ctx, "banditstore: skipping corrupt bandit",
		slog.String("store", store),
		slog.String("name", name),
		slog.String("err", err.Error()),
	)
}

// encode marshals each bandit to its JSON record.
func encode(bandits map[string]*ab.Bandit) (map[string][]byte, error) {
	raw := make(map[string][]byte, len(bandits))
	for name, b := range bandits {
		data, err := ab.Encode(b).MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("%w: bandit %q: %w", ErrWrite, name, err)
		}
		raw[name] = data
	}

	return raw, nil
}

func writeError(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrWrite, err)
}
