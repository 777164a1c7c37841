// Package pgtest starts a disposable postgres container for tests. Each test
// gets its own transaction through go-txdb, rolled back when the test ends.
package pgtest

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	txdb "github.com/DATA-DOG/go-txdb"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	dockertest "github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

var ids atomic.Int64

var (
	c       *client
	initErr error
	once    sync.Once
)

// Init starts the shared container and runs the hook, e.g. migrations, once
// it accepts connections. Call it from TestMain and defer the returned stop.
// When docker is unavailable the tests that need postgres are skipped.
func Init(opts ...Option) func() {
	stop := func() {}
	once.Do(func() {
		c, initErr = newClient(opts...)
		if initErr != nil {
			log.Printf("pgtest: %v", initErr)
			return
		}
		stop = c.close
	})

	return stop
}

// Tx returns a connection whose statements run in a single transaction that
// is rolled back on cleanup.
func Tx(t *testing.T) *sql.DB {
	t.Helper()
	skipUnavailable(t)

	db, err := sql.Open(c.txdb(), uuid.NewString())
	if err != nil {
		t.Fatalf("pgtest: open txdb: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// DSN returns the connection string of the shared container.
func DSN(t *testing.T) string {
	t.Helper()
	skipUnavailable(t)

	return c.dsn
}

func skipUnavailable(t *testing.T) {
	t.Helper()
	if c == nil && initErr == nil {
		t.Fatal("pgtest: Init must be called at TestMain")
	}
	if initErr != nil {
		t.Skipf("pgtest: postgres unavailable: %v", initErr)
	}
}

type Option func(*config) error

// Hook runs against the database once the container is ready.
func Hook(fn func(*sql.DB) error) Option {
	return func(cfg *config) error {
		cfg.Hook = fn
		return nil
	}
}

// Image overrides the postgres image, e.g. "postgres:16".
func Image(image string) Option {
	return func(cfg *config) error {
		repo, tag, ok := strings.Cut(image, ":")
		if !ok {
			return fmt.Errorf("invalid image: %q", image)
		}
		cfg.Repository = repo
		cfg.Tag = tag

		return nil
	}
}

type config struct {
	Repository string
	Tag        string
	Hook       func(*sql.DB) error
}

func newConfig() *config {
	return &config{
		Repository: "postgres",
		Tag:        "16-alpine",
		Hook:       func(*sql.DB) error { return nil },
	}
}

type client struct {
	dsn   string
	close func()

	txOnce sync.Once
	txName string
}

func newClient(opts ...Option) (*client, error) {
	cfg := newConfig()
	for _, o := range opts {
		if err := o(cfg); err != nil {
			return nil, err
		}
	}

	c := new(client)
	if err := c.init(cfg); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *client) init(cfg *config) error {
	pool, err := dockertest.NewPool("")
	if err != nil {
		return fmt.Errorf("construct pool: %w", err)
	}
	if err := pool.Client.Ping(); err != nil {
		return fmt.Errorf("connect to docker: %w", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: cfg.Repository,
		Tag:        cfg.Tag,
		Env: []string{
			"POSTGRES_PASSWORD=123456",
			"POSTGRES_USER=mab",
			"POSTGRES_DB=test",
		},
		// No need to flush to disk in tests.
		Cmd: []string{"postgres", "-c", "fsync=off", "-c", "synchronous_commit=off", "-c", "full_page_writes=off"},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		return fmt.Errorf("start resource: %w", err)
	}
	_ = resource.Expire(120)

	dsn := fmt.Sprintf("postgres://mab:123456@%s/test?sslmode=disable", resource.GetHostPort("5432/tcp"))

	pool.MaxWait = 120 * time.Second
	if err := pool.Retry(func() error {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Ping(); err != nil {
			return err
		}

		return cfg.Hook(db)
	}); err != nil {
		_ = pool.Purge(resource)
		return fmt.Errorf("connect to postgres: %w", err)
	}

	c.dsn = dsn
	c.close = func() {
		if err := pool.Purge(resource); err != nil {
			log.Printf("pgtest: purge resource: %v", err)
		}
	}

	return nil
}

func (c *client) txdb() string {
	c.txOnce.Do(func() {
		c.txName = fmt.Sprintf("txdb%d", ids.Add(1))
		txdb.Register(c.txName, "postgres", c.dsn)
	})

	return c.txName
}
