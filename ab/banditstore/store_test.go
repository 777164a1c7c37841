package banditstore_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alextanhongpin/mab/ab"
	"github.com/alextanhongpin/mab/ab/banditstore"
	"github.com/alextanhongpin/mab/internal/pgtest"
	"github.com/alextanhongpin/mab/internal/redistest"
)

var ctx = context.Background()

func TestMain(m *testing.M) {
	stopRedis := redistest.Init()
	stopPostgres := pgtest.Init(pgtest.Hook(func(db *sql.DB) error {
		return banditstore.NewSQLStore(db).Migrate(ctx)
	}))
	code := m.Run()
	stopRedis()
	stopPostgres()
	os.Exit(code)
}

func newBandit(t *testing.T, s ab.Strategy, arms ...string) *ab.Bandit {
	t.Helper()

	b, err := ab.New(s)
	require.NoError(t, err)
	for _, id := range arms {
		require.NoError(t, b.AddArm(id, "value-"+id))
	}

	return b
}

func sampleBandits(t *testing.T) map[string]*ab.Bandit {
	t.Helper()

	color := newBandit(t, ab.EpsilonGreedy{Epsilon: 0.1}, "green", "red", "blue")
	require.NoError(t, color.PullArm("green"))
	require.NoError(t, color.PullArm("green"))
	require.NoError(t, color.RewardArm("green", 1))

	headline := newBandit(t, ab.Softmax{Tau: 0.2}, "short", "long")
	require.NoError(t, headline.PullArm("long"))

	price := newBandit(t, ab.Thompson{Alpha: 2, Beta: 3}, "low", "high")
	require.NoError(t, price.PullArm("low"))
	require.NoError(t, price.RewardArm("low", 1))

	return map[string]*ab.Bandit{
		"color_button": color,
		"headline":     headline,
		"price":        price,
	}
}

func assertSameBandits(t *testing.T, want, got map[string]*ab.Bandit) {
	t.Helper()

	require.Len(t, got, len(want))
	for name, b := range want {
		g, ok := got[name]
		require.True(t, ok, "missing bandit %q", name)
		assert.Equal(t, b.Strategy(), g.Strategy(), name)
		assert.Equal(t, b.Arms(), g.Arms(), name)
	}
}

func TestMemoryStore(t *testing.T) {
	store := banditstore.NewMemoryStore()

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	want := sampleBandits(t)
	require.NoError(t, store.Save(ctx, want))

	got, err = store.Load(ctx)
	require.NoError(t, err)
	assertSameBandits(t, want, got)

	// Loaded bandits are copies.
	require.NoError(t, got["headline"].PullArm("short"))
	again, err := store.Load(ctx)
	require.NoError(t, err)
	assertSameBandits(t, want, again)
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	store := banditstore.NewMemoryStore()

	b := newBandit(t, ab.Uniform{})
	require.NoError(t, b.AddArm("hero", map[string]any{"title": "Sale"}))
	require.NoError(t, store.Save(ctx, map[string]*ab.Bandit{"banner": b}))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	hero, err := got["banner"].Arm("hero")
	require.NoError(t, err)
	hero.Value.(map[string]any)["title"] = "changed"

	again, err := store.Load(ctx)
	require.NoError(t, err)
	hero, err = again["banner"].Arm("hero")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "Sale"}, hero.Value)

	orig, err := b.Arm("hero")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "Sale"}, orig.Value)
}
