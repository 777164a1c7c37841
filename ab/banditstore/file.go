package banditstore

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alextanhongpin/mab/ab"
)

var _ Store = (*FileStore)(nil)

// FileStore keeps all bandits in a single document. Files ending in .yaml or
// .yml are written as YAML, anything else as JSON.
type FileStore struct {
	path string
	opts *options
}

func NewFileStore(path string, opts ...Option) *FileStore {
	return &FileStore{
		path: path,
		opts: newOptions(opts...),
	}
}

func (s *FileStore) yaml() bool {
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// Load decodes the document entry by entry. A corrupt entry is skipped with
// a warning, a document that cannot be parsed at all loads as empty.
func (s *FileStore) Load(ctx context.Context) (map[string]*ab.Bandit, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]*ab.Bandit), nil
	}
	if err != nil {
		return nil, err
	}

	if s.yaml() {
		var raw map[string]yaml.Node
		if err := yaml.Unmarshal(data, &raw); err != nil {
			s.opts.corrupt(ctx, "file", s.path, err)
			return make(map[string]*ab.Bandit), nil
		}

		return decodeEntries(ctx, s.opts, "file", raw, func(n yaml.Node, rec *ab.Record) error {
			return n.Decode(rec)
		}), nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.opts.corrupt(ctx, "file", s.path, err)
		return make(map[string]*ab.Bandit), nil
	}

	return decodeEntries(ctx, s.opts, "file", raw, func(m json.RawMessage, rec *ab.Record) error {
		return rec.UnmarshalJSON(m)
	}), nil
}

// Save writes to a temporary file in the same directory and renames it over
// the target, so readers never observe a partial document.
func (s *FileStore) Save(ctx context.Context, bandits map[string]*ab.Bandit) error {
	var (
		data []byte
		err  error
	)
	if s.yaml() {
		data, err = yaml.Marshal(ab.EncodeAll(bandits))
	} else {
		data, err = ab.MarshalBandits(bandits)
	}
	if err != nil {
		return writeError(err)
	}

	return writeError(s.write(data))
}

func (s *FileStore) write(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(f.Name(), s.path)
}
