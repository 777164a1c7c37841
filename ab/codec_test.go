package ab_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/alextanhongpin/mab/ab"
)

func allStrategies() []ab.Strategy {
	return []ab.Strategy{
		ab.Uniform{},
		ab.EpsilonGreedy{Epsilon: 0.25},
		ab.NaiveStochastic{},
		ab.Softmax{Tau: 0.3},
		ab.AnnealingSoftmax{},
		ab.Thompson{Alpha: 2, Beta: 5},
	}
}

func playedBandit(t *testing.T, s ab.Strategy) *ab.Bandit {
	t.Helper()

	b := newColorBandit(t, s)
	require.NoError(t, b.PullArm("green"))
	require.NoError(t, b.PullArm("green"))
	require.NoError(t, b.PullArm("blue"))
	require.NoError(t, b.RewardArm("green", 1))
	require.NoError(t, b.RewardArm("blue", 0.5))

	return b
}

func TestCodec_BanditRoundTrip(t *testing.T) {
	for _, s := range allStrategies() {
		t.Run(string(s.Type()), func(t *testing.T) {
			b := playedBandit(t, s)

			got, err := ab.Decode(ab.Encode(b))
			require.NoError(t, err)
			assert.Equal(t, b.Type(), got.Type())
			assert.Equal(t, b.Strategy(), got.Strategy())
			assert.Equal(t, b.Arms(), got.Arms())

			data, err := json.Marshal(b)
			require.NoError(t, err)

			var decoded ab.Bandit
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, b.Strategy(), decoded.Strategy())
			assert.Equal(t, b.Arms(), decoded.Arms())
		})
	}
}

func TestCodec_RecordRoundTrip(t *testing.T) {
	records := map[string]string{
		"epsilon":  `{"arms":["green","red"],"bandit_type":"EpsilonGreedyBandit","epsilon":0.1,"pulls":[3,1],"reward":[1.5,0],"values":["#00FF00","#FF0000"]}`,
		"random":   `{"arms":["a"],"bandit_type":"RandomBandit","pulls":[0],"reward":[0],"values":[null]}`,
		"softmax":  `{"arms":["a","b"],"bandit_type":"SoftmaxBandit","pulls":[10,20],"reward":[2,4],"tau":0.5,"values":[1,{"k":"v"}]}`,
		"thompson": `{"arms":["x","y"],"bandit_type":"ThompsonBandit","prior":[1,1],"pulls":[4,4],"reward":[1,3],"values":["x","y"]}`,
		"empty":    `{"arms":[],"bandit_type":"NaiveStochasticBandit","pulls":[],"reward":[],"values":[]}`,

		"thompson without prior": `{"arms":["x"],"bandit_type":"ThompsonBandit","pulls":[2],"reward":[1],"values":[null]}`,
		"annealing with tau":     `{"arms":["a","b"],"bandit_type":"AnnealingSoftmaxBandit","pulls":[3,1],"reward":[1,0],"tau":0.3,"values":["a","b"]}`,
		"unknown params":         `{"arms":["a"],"bandit_type":"EpsilonGreedyBandit","epsilon":0.2,"label":"homepage","pulls":[0],"reward":[0],"values":[null]}`,
	}

	for name, raw := range records {
		t.Run(name, func(t *testing.T) {
			var rec ab.Record
			require.NoError(t, json.Unmarshal([]byte(raw), &rec))

			b, err := ab.Decode(rec)
			require.NoError(t, err)

			if diff := cmp.Diff(rec, ab.Encode(b)); diff != "" {
				t.Fatalf("record mismatch (-want +got):\n%s", diff)
			}

			data, err := json.Marshal(ab.Encode(b))
			require.NoError(t, err)
			assert.JSONEq(t, raw, string(data))
		})
	}
}

func TestCodec_StableEncoding(t *testing.T) {
	b := playedBandit(t, ab.Thompson{})

	first, err := json.Marshal(b)
	require.NoError(t, err)
	second, err := json.Marshal(b.Clone())
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	want := `{"arms":["green","red","blue"],"bandit_type":"ThompsonBandit","pulls":[2,0,1],"reward":[1,0,0.5],"values":["#00FF00","#FF0000","#0000FF"]}`
	assert.Equal(t, want, string(first))
}

func TestCodec_UnknownBanditType(t *testing.T) {
	rec := ab.Record{
		BanditType: "UCBBandit",
		Arms:       []string{},
		Pulls:      []int64{},
		Reward:     []float64{},
		Values:     []any{},
	}

	_, err := ab.Decode(rec)
	assert.ErrorIs(t, err, ab.ErrUnknownBanditType)
}

func TestCodec_MalformedRecord(t *testing.T) {
	tests := map[string]string{
		"missing bandit_type": `{"arms":[],"pulls":[],"reward":[],"values":[]}`,
		"missing arms":        `{"bandit_type":"RandomBandit","pulls":[],"reward":[],"values":[]}`,
		"missing values":      `{"bandit_type":"RandomBandit","arms":[],"pulls":[],"reward":[]}`,
		"null pulls":          `{"bandit_type":"RandomBandit","arms":[],"pulls":null,"reward":[],"values":[]}`,
		"fractional pulls":    `{"bandit_type":"RandomBandit","arms":["a"],"pulls":[1.5],"reward":[0],"values":[null]}`,
		"arm is not a string": `{"bandit_type":"RandomBandit","arms":[1],"pulls":[0],"reward":[0],"values":[null]}`,
		"not an object":       `[]`,
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			var rec ab.Record
			err := json.Unmarshal([]byte(raw), &rec)
			assert.ErrorIs(t, err, ab.ErrMalformedRecord)
		})
	}

	decodeTests := map[string]ab.Record{
		"misaligned": {
			BanditType: ab.TypeUniform,
			Arms:       []string{"a", "b"},
			Pulls:      []int64{0},
			Reward:     []float64{0, 0},
			Values:     []any{nil, nil},
		},
		"duplicate arms": {
			BanditType: ab.TypeUniform,
			Arms:       []string{"a", "a"},
			Pulls:      []int64{0, 0},
			Reward:     []float64{0, 0},
			Values:     []any{nil, nil},
		},
		"negative pulls": {
			BanditType: ab.TypeUniform,
			Arms:       []string{"a"},
			Pulls:      []int64{-1},
			Reward:     []float64{0},
			Values:     []any{nil},
		},
		"missing epsilon": {
			BanditType: ab.TypeEpsilonGreedy,
			Arms:       []string{},
			Pulls:      []int64{},
			Reward:     []float64{},
			Values:     []any{},
		},
		"bad prior": {
			BanditType: ab.TypeThompson,
			Arms:       []string{},
			Pulls:      []int64{},
			Reward:     []float64{},
			Values:     []any{},
			Params:     ab.Params{"prior": []any{1.0}},
		},
		"missing arrays": {
			BanditType: ab.TypeUniform,
		},
	}

	for name, rec := range decodeTests {
		t.Run(name, func(t *testing.T) {
			_, err := ab.Decode(rec)
			assert.ErrorIs(t, err, ab.ErrMalformedRecord)
		})
	}
}

func TestCodec_InvalidParameter(t *testing.T) {
	tests := map[string]string{
		"zero tau":       `{"arms":[],"bandit_type":"SoftmaxBandit","pulls":[],"reward":[],"tau":0,"values":[]}`,
		"zero prior":     `{"arms":[],"bandit_type":"ThompsonBandit","prior":[0,0],"pulls":[],"reward":[],"values":[]}`,
		"half prior":     `{"arms":[],"bandit_type":"ThompsonBandit","prior":[0,2],"pulls":[],"reward":[],"values":[]}`,
		"negative prior": `{"arms":[],"bandit_type":"ThompsonBandit","prior":[-1,1],"pulls":[],"reward":[],"values":[]}`,
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			var rec ab.Record
			require.NoError(t, json.Unmarshal([]byte(raw), &rec))

			_, err := ab.Decode(rec)
			assert.ErrorIs(t, err, ab.ErrInvalidParameter)
		})
	}
}

func TestCodec_ExtraParamsSurviveClone(t *testing.T) {
	var rec ab.Record
	raw := `{"arms":["a"],"bandit_type":"AnnealingSoftmaxBandit","pulls":[0],"reward":[0],"tau":0.3,"values":[null]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))

	b, err := ab.Decode(rec)
	require.NoError(t, err)

	data, err := json.Marshal(b.Clone())
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(data))
}

func TestCodec_YAML(t *testing.T) {
	b := playedBandit(t, ab.EpsilonGreedy{Epsilon: 0.1})

	data, err := yaml.Marshal(ab.Encode(b))
	require.NoError(t, err)

	var rec ab.Record
	require.NoError(t, yaml.Unmarshal(data, &rec))

	got, err := ab.Decode(rec)
	require.NoError(t, err)
	assert.Equal(t, b.Arms(), got.Arms())
	assert.Equal(t, b.Strategy(), got.Strategy())
}

func TestMarshalBandits(t *testing.T) {
	bandits := map[string]*ab.Bandit{
		"color_button": playedBandit(t, ab.EpsilonGreedy{Epsilon: 0.1}),
		"headline":     playedBandit(t, ab.AnnealingSoftmax{}),
	}

	data, err := ab.MarshalBandits(bandits)
	require.NoError(t, err)

	got, err := ab.UnmarshalBandits(data)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for name, b := range bandits {
		assert.Equal(t, b.Arms(), got[name].Arms())
		assert.Equal(t, b.Type(), got[name].Type())
	}

	again, err := ab.MarshalBandits(got)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestUnmarshalBandits_UnknownType(t *testing.T) {
	_, err := ab.UnmarshalBandits([]byte(`{"exp":{"bandit_type":"Nope","arms":[],"pulls":[],"reward":[],"values":[]}}`))
	assert.ErrorIs(t, err, ab.ErrUnknownBanditType)
}

func TestTypes(t *testing.T) {
	assert.ElementsMatch(t, []ab.Type{
		ab.TypeUniform,
		ab.TypeEpsilonGreedy,
		ab.TypeNaiveStochastic,
		ab.TypeSoftmax,
		ab.TypeAnnealingSoftmax,
		ab.TypeThompson,
	}, ab.Types())
}
