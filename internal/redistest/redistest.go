// Package redistest starts a disposable redis container for tests.
package redistest

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"testing"

	dockertest "github.com/ory/dockertest/v3"
	redis "github.com/redis/go-redis/v9"
)

var (
	c       *client
	initErr error
	once    sync.Once
)

// Init starts the shared container. Call it from TestMain and defer the
// returned stop. When docker is unavailable the tests that need redis are
// skipped instead of failing.
func Init(opts ...Option) func() {
	stop := func() {}
	once.Do(func() {
		c, initErr = newClient(opts...)
		if initErr != nil {
			log.Printf("redistest: %v", initErr)
			return
		}
		stop = c.close
	})

	return stop
}

// Addr returns the address of the shared container.
func Addr(t *testing.T) string {
	t.Helper()
	skipUnavailable(t)

	return c.addr
}

// Client returns a client to the shared container, flushed and closed when
// the test ends.
func Client(t *testing.T) *redis.Client {
	t.Helper()
	skipUnavailable(t)

	client := c.Client()
	t.Cleanup(func() {
		_ = client.FlushAll(context.Background()).Err()
		_ = client.Close()
	})

	return client
}

func skipUnavailable(t *testing.T) {
	t.Helper()
	if c == nil && initErr == nil {
		t.Fatal("redistest: Init must be called at TestMain")
	}
	if initErr != nil {
		t.Skipf("redistest: redis unavailable: %v", initErr)
	}
}

type Option func(c *config) error

type config struct {
	Repository string
	Tag        string
}

func newConfig() *config {
	return &config{
		Repository: "redis",
		Tag:        "7-alpine",
	}
}

func (c *config) apply(opts ...Option) error {
	for _, o := range opts {
		if err := o(c); err != nil {
			return err
		}
	}

	return nil
}

// Image overrides the redis image, e.g. "redis:7".
func Image(image string) Option {
	return func(c *config) error {
		repo, tag, ok := strings.Cut(image, ":")
		if !ok {
			return fmt.Errorf("invalid image: %q", image)
		}

		c.Repository = repo
		c.Tag = tag
		return nil
	}
}

type client struct {
	cfg   *config
	addr  string
	close func()
}

func newClient(opts ...Option) (*client, error) {
	cfg := newConfig()
	if err := cfg.apply(opts...); err != nil {
		return nil, err
	}

	c := &client{
		cfg: cfg,
	}
	if err := c.init(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *client) Client() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: c.addr,
	})
}

func (c *client) init() error {
	pool, err := dockertest.NewPool("")
	if err != nil {
		return fmt.Errorf("construct pool: %w", err)
	}

	if err := pool.Client.Ping(); err != nil {
		return fmt.Errorf("connect to docker: %w", err)
	}

	resource, err := pool.Run(c.cfg.Repository, c.cfg.Tag, nil)
	if err != nil {
		return fmt.Errorf("start resource: %w", err)
	}

	addr := resource.GetHostPort("6379/tcp")
	if err := pool.Retry(func() error {
		db := redis.NewClient(&redis.Options{
			Addr: addr,
		})
		defer db.Close()

		return db.Ping(context.Background()).Err()
	}); err != nil {
		_ = pool.Purge(resource)
		return fmt.Errorf("connect to redis: %w", err)
	}

	c.addr = addr
	c.close = func() {
		if err := pool.Purge(resource); err != nil {
			log.Printf("redistest: purge resource: %v", err)
		}
	}

	return nil
}
