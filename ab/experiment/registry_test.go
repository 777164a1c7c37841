package experiment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alextanhongpin/mab/ab"
	"github.com/alextanhongpin/mab/ab/banditstore"
	"github.com/alextanhongpin/mab/ab/experiment"
)

var ctx = context.Background()

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newColorBandit(t *testing.T, arms ...string) *ab.Bandit {
	t.Helper()

	b, err := ab.New(ab.EpsilonGreedy{Epsilon: 0.1})
	require.NoError(t, err)
	for _, id := range arms {
		require.NoError(t, b.AddArm(id, "#"+id))
	}

	return b
}

func newRegistry(t *testing.T, store banditstore.Store, opts ...experiment.Option) *experiment.Registry {
	t.Helper()

	r, err := experiment.New(ctx, store, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Close(ctx)
	})

	return r
}

type failingStore struct {
	loadErr error
	saveErr error
}

func (s failingStore) Load(context.Context) (map[string]*ab.Bandit, error) {
	return nil, s.loadErr
}

func (s failingStore) Save(context.Context, map[string]*ab.Bandit) error {
	return s.saveErr
}

func TestRegistry(t *testing.T) {
	r := newRegistry(t, banditstore.NewMemoryStore())
	require.NoError(t, r.Add("color", newColorBandit(t, "green", "red")))

	is := assert.New(t)
	is.Equal([]string{"color"}, r.Names())

	arm, err := r.Assign("color")
	is.NoError(err)
	is.Equal(int64(1), arm.Pulls)

	is.NoError(r.Pull("color", "red"))
	is.NoError(r.Reward("color", "red", 1))

	red, err := r.Arm("color", "red")
	is.NoError(err)
	is.Equal(1.0, red.Reward)

	arms, err := r.Arms("color")
	is.NoError(err)
	is.Len(arms, 2)

	var pulls int64
	for _, a := range arms {
		pulls += a.Pulls
	}
	is.Equal(int64(2), pulls)
}

func TestRegistry_Errors(t *testing.T) {
	r := newRegistry(t, banditstore.NewMemoryStore())
	require.NoError(t, r.Add("color", newColorBandit(t, "green")))
	require.NoError(t, r.Add("empty", newColorBandit(t)))

	is := assert.New(t)
	is.ErrorIs(r.Add("color", newColorBandit(t, "green")), experiment.ErrExperimentExists)
	is.ErrorIs(r.Add("", newColorBandit(t)), ab.ErrInvalidParameter)

	_, err := r.Suggest("unknown")
	is.ErrorIs(err, experiment.ErrExperimentNotFound)
	_, err = r.Assign("unknown")
	is.ErrorIs(err, experiment.ErrExperimentNotFound)
	is.ErrorIs(r.Pull("unknown", "green"), experiment.ErrExperimentNotFound)
	is.ErrorIs(r.Reward("unknown", "green", 1), experiment.ErrExperimentNotFound)
	_, err = r.Get("unknown")
	is.ErrorIs(err, experiment.ErrExperimentNotFound)

	is.ErrorIs(r.Pull("color", "nonexistent"), ab.ErrArmNotFound)
	is.ErrorIs(r.Reward("color", "green", -1), ab.ErrInvalidReward)
	_, err = r.Suggest("empty")
	is.ErrorIs(err, ab.ErrNoArmsRegistered)
}

func TestRegistry_SavedStateWins(t *testing.T) {
	store := banditstore.NewMemoryStore()

	saved := newColorBandit(t, "green", "red")
	require.NoError(t, saved.PullArm("green"))
	require.NoError(t, saved.RewardArm("green", 1))
	require.NoError(t, store.Save(ctx, map[string]*ab.Bandit{"color": saved}))

	r := newRegistry(t, store)
	require.Equal(t, []string{"color"}, r.Names(), "saved bandits are served before Add")

	fresh, err := ab.New(ab.Uniform{})
	require.NoError(t, err)
	require.NoError(t, fresh.AddArm("green", "#new"))
	require.NoError(t, fresh.AddArm("blue", "#blue"))
	require.NoError(t, r.Add("color", fresh))

	b, err := r.Get("color")
	require.NoError(t, err)

	is := assert.New(t)
	is.Equal(ab.TypeEpsilonGreedy, b.Type())
	is.Equal([]ab.Arm{
		{ID: "green", Pulls: 1, Reward: 1, Value: "#green"},
		{ID: "red", Value: "#red"},
		{ID: "blue", Value: "#blue"},
	}, b.Arms())

	is.ErrorIs(r.Add("color", fresh), experiment.ErrExperimentExists)
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := newRegistry(t, banditstore.NewMemoryStore())
	require.NoError(t, r.Add("color", newColorBandit(t, "green")))

	b, err := r.Get("color")
	require.NoError(t, err)
	require.NoError(t, b.PullArm("green"))

	green, err := r.Arm("color", "green")
	require.NoError(t, err)
	assert.Zero(t, green.Pulls)
}

func TestRegistry_SaveAndClose(t *testing.T) {
	store := banditstore.NewMemoryStore()
	r, err := experiment.New(ctx, store)
	require.NoError(t, err)

	require.NoError(t, r.Add("color", newColorBandit(t, "green", "red")))
	require.NoError(t, r.Pull("color", "red"))
	require.NoError(t, r.Save(ctx))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	red, err := got["color"].Arm("red")
	require.NoError(t, err)
	assert.Equal(t, int64(1), red.Pulls)

	require.NoError(t, r.Reward("color", "red", 0.5))
	require.NoError(t, r.Close(ctx))
	require.NoError(t, r.Close(ctx))

	got, err = store.Load(ctx)
	require.NoError(t, err)
	red, err = got["color"].Arm("red")
	require.NoError(t, err)
	assert.Equal(t, 0.5, red.Reward)
}

func TestRegistry_LoadError(t *testing.T) {
	wantErr := errors.New("connection refused")
	_, err := experiment.New(ctx, failingStore{loadErr: wantErr})
	assert.ErrorIs(t, err, wantErr)
}

func TestRegistry_SaveError(t *testing.T) {
	m := experiment.NewMetrics(prometheus.NewRegistry())
	r, err := experiment.New(ctx, failingStore{saveErr: banditstore.ErrWrite}, experiment.WithMetrics(m))
	require.NoError(t, err)

	require.NoError(t, r.Add("color", newColorBandit(t, "green")))
	assert.ErrorIs(t, r.Save(ctx), banditstore.ErrWrite)
	assert.ErrorIs(t, r.Close(ctx), banditstore.ErrWrite)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Saves.WithLabelValues("error")))
}

func TestRegistry_Metrics(t *testing.T) {
	m := experiment.NewMetrics(prometheus.NewRegistry())
	r := newRegistry(t, banditstore.NewMemoryStore(), experiment.WithMetrics(m))
	require.NoError(t, r.Add("color", newColorBandit(t, "green")))

	for range 3 {
		_, err := r.Assign("color")
		require.NoError(t, err)
	}
	_, err := r.Suggest("color")
	require.NoError(t, err)
	require.NoError(t, r.Reward("color", "green", 2))
	require.NoError(t, r.Save(ctx))

	is := assert.New(t)
	is.Equal(4.0, testutil.ToFloat64(m.Suggestions.WithLabelValues("color", "green")))
	is.Equal(3.0, testutil.ToFloat64(m.Pulls.WithLabelValues("color", "green")))
	is.Equal(2.0, testutil.ToFloat64(m.Rewards.WithLabelValues("color", "green")))
	is.Equal(1.0, testutil.ToFloat64(m.Saves.WithLabelValues("ok")))
}

func TestRegistry_Concurrent(t *testing.T) {
	r := newRegistry(t, banditstore.NewMemoryStore(), experiment.WithStripes(4))
	names := []string{"a", "b", "c", "d", "e"}
	for _, name := range names {
		require.NoError(t, r.Add(name, newColorBandit(t, "green", "red", "blue")))
	}

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			name := names[i%len(names)]
			for range 100 {
				arm, err := r.Assign(name)
				if !assert.NoError(t, err) {
					return
				}
				assert.NoError(t, r.Reward(name, arm.ID, 1))
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 10 {
			assert.NoError(t, r.Save(ctx))
		}
	}()
	wg.Wait()

	for _, name := range names {
		b, err := r.Get(name)
		require.NoError(t, err)
		assert.Equal(t, int64(1_000), b.TotalPulls(), name)
	}
}

func TestRegistry_Autosave(t *testing.T) {
	store := banditstore.NewMemoryStore()
	r := newRegistry(t, store, experiment.WithAutosave(experiment.Policy{Every: 1, Interval: 10 * time.Millisecond}))
	require.NoError(t, r.Add("color", newColorBandit(t, "green")))
	require.NoError(t, r.Pull("color", "green"))

	assert.Eventually(t, func() bool {
		got, err := store.Load(ctx)
		if err != nil || got["color"] == nil {
			return false
		}

		green, err := got["color"].Arm("green")
		return err == nil && green.Pulls == 1
	}, time.Second, 10*time.Millisecond)
}
