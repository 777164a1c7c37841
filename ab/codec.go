package ab

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

// Params holds the strategy specific fields of a record, e.g. epsilon.
type Params map[string]any

func (p Params) float(key string) (float64, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrMalformedRecord, key)
	}

	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("%w: %q is not a number", ErrMalformedRecord, key)
	}

	return f, nil
}

func (p Params) pair(key string) (float64, float64, bool, error) {
	v, ok := p[key]
	if !ok {
		return 0, 0, false, nil
	}

	vs, ok := v.([]any)
	if !ok || len(vs) != 2 {
		return 0, 0, false, fmt.Errorf("%w: %q must be a pair", ErrMalformedRecord, key)
	}
	a, okA := toFloat(vs[0])
	b, okB := toFloat(vs[1])
	if !okA || !okB {
		return 0, 0, false, fmt.Errorf("%w: %q must be a pair of numbers", ErrMalformedRecord, key)
	}

	return a, b, true, nil
}

// strategies maps each stored tag to the constructor of its strategy.
var strategies = map[Type]func(Params) (Strategy, error){
	TypeUniform: func(Params) (Strategy, error) {
		return Uniform{}, nil
	},
	TypeEpsilonGreedy: func(p Params) (Strategy, error) {
		eps, err := p.float("epsilon")
		if err != nil {
			return nil, err
		}

		return EpsilonGreedy{Epsilon: eps}, nil
	},
	TypeNaiveStochastic: func(Params) (Strategy, error) {
		return NaiveStochastic{}, nil
	},
	TypeSoftmax: func(p Params) (Strategy, error) {
		tau, err := p.float("tau")
		if err != nil {
			return nil, err
		}

		return Softmax{Tau: tau}, nil
	},
	TypeAnnealingSoftmax: func(Params) (Strategy, error) {
		return AnnealingSoftmax{}, nil
	},
	TypeThompson: func(p Params) (Strategy, error) {
		alpha, beta, ok, err := p.pair("prior")
		if err != nil {
			return nil, err
		}
		if !ok {
			return Thompson{}, nil
		}
		if !(alpha > 0 && beta > 0) {
			return nil, fmt.Errorf("%w: prior (%v, %v)", ErrInvalidParameter, alpha, beta)
		}

		return Thompson{Alpha: alpha, Beta: beta}, nil
	},
}

// Types returns the registered bandit types.
func Types() []Type {
	types := make([]Type, 0, len(strategies))
	for t := range strategies {
		types = append(types, t)
	}
	slices.Sort(types)

	return types
}

// NewStrategy builds the strategy registered under t from its params.
func NewStrategy(t Type, p Params) (Strategy, error) {
	ctor, ok := strategies[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBanditType, t)
	}

	s, err := ctor(p)
	if err != nil {
		return nil, err
	}

	return s, s.Validate()
}

// Record is the plain representation of a bandit. Arms, Pulls, Reward and
// Values are aligned: index i of each describes the same arm. Params are
// flattened next to the fixed fields when encoded.
type Record struct {
	BanditType Type
	Arms       []string
	Pulls      []int64
	Reward     []float64
	Values     []any
	Params     Params
}

// Encode converts the bandit to a record.
func Encode(b *Bandit) Record {
	rec := Record{
		BanditType: b.Type(),
		Arms:       make([]string, len(b.arms)),
		Pulls:      make([]int64, len(b.arms)),
		Reward:     make([]float64, len(b.arms)),
		Values:     make([]any, len(b.arms)),
		Params:     b.params(),
	}
	for i, a := range b.arms {
		rec.Arms[i] = a.ID
		rec.Pulls[i] = a.Pulls
		rec.Reward[i] = a.Reward
		rec.Values[i] = a.Value
	}

	return rec
}

// Decode reconstructs the bandit described by the record. Params the
// strategy does not use are kept and written back by Encode.
func Decode(rec Record, opts ...Option) (*Bandit, error) {
	s, err := NewStrategy(rec.BanditType, rec.Params)
	if err != nil {
		return nil, err
	}
	if err := rec.validate(); err != nil {
		return nil, err
	}

	b, err := New(s, opts...)
	if err != nil {
		return nil, err
	}

	known := s.params()
	for k, v := range rec.Params {
		if _, ok := known[k]; ok {
			continue
		}
		if b.extra == nil {
			b.extra = make(Params)
		}
		b.extra[k] = v
	}

	for i, id := range rec.Arms {
		if err := b.AddArm(id, rec.Values[i]); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
		}
		b.arms[i].Pulls = rec.Pulls[i]
		b.arms[i].Reward = rec.Reward[i]
	}

	return b, nil
}

// params merges the strategy params over the unused ones of the decoded
// record. It is nil when there are none.
func (b *Bandit) params() Params {
	own := b.strategy.params()
	if len(b.extra) == 0 {
		return own
	}

	p := make(Params, len(b.extra)+len(own))
	for k, v := range b.extra {
		p[k] = v
	}
	for k, v := range own {
		p[k] = v
	}

	return p
}

func (r Record) validate() error {
	if r.Arms == nil || r.Pulls == nil || r.Reward == nil || r.Values == nil {
		return fmt.Errorf("%w: missing arms, pulls, reward or values", ErrMalformedRecord)
	}

	n := len(r.Arms)
	if len(r.Pulls) != n || len(r.Reward) != n || len(r.Values) != n {
		return fmt.Errorf("%w: %d arms, %d pulls, %d reward, %d values",
			ErrMalformedRecord, n, len(r.Pulls), len(r.Reward), len(r.Values))
	}

	for i := range r.Arms {
		if r.Pulls[i] < 0 {
			return fmt.Errorf("%w: arm %q has negative pulls", ErrMalformedRecord, r.Arms[i])
		}
		if rw := r.Reward[i]; rw < 0 || math.IsNaN(rw) || math.IsInf(rw, 0) {
			return fmt.Errorf("%w: arm %q has invalid reward %v", ErrMalformedRecord, r.Arms[i], rw)
		}
	}

	return nil
}

func (r Record) fields() map[string]any {
	m := make(map[string]any, len(r.Params)+5)
	for k, v := range r.Params {
		m[k] = v
	}
	m["bandit_type"] = r.BanditType
	m["arms"] = r.Arms
	m["pulls"] = r.Pulls
	m["reward"] = r.Reward
	m["values"] = r.Values

	return m
}

// MarshalJSON emits the record as a flat object. Keys are sorted, so equal
// records encode to identical bytes.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.fields())
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}

	return r.fromMap(m)
}

// MarshalYAML and UnmarshalYAML let yaml encoders use the same flat layout.
func (r Record) MarshalYAML() (any, error) {
	return r.fields(), nil
}

func (r *Record) UnmarshalYAML(unmarshal func(any) error) error {
	var m map[string]any
	if err := unmarshal(&m); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}

	return r.fromMap(m)
}

func (r *Record) fromMap(m map[string]any) error {
	var rec Record

	t, ok := m["bandit_type"].(string)
	if !ok {
		return fmt.Errorf("%w: missing bandit_type", ErrMalformedRecord)
	}
	rec.BanditType = Type(t)

	arms, err := field(m, "arms", func(v any) (string, bool) {
		s, ok := v.(string)
		return s, ok
	})
	if err != nil {
		return err
	}
	pulls, err := field(m, "pulls", func(v any) (int64, bool) {
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	})
	if err != nil {
		return err
	}
	reward, err := field(m, "reward", toFloat)
	if err != nil {
		return err
	}
	values, err := field(m, "values", func(v any) (any, bool) {
		return normalize(v), true
	})
	if err != nil {
		return err
	}

	rec.Arms, rec.Pulls, rec.Reward, rec.Values = arms, pulls, reward, values
	for k, v := range m {
		switch k {
		case "bandit_type", "arms", "pulls", "reward", "values":
			continue
		}
		if rec.Params == nil {
			rec.Params = make(Params)
		}
		rec.Params[k] = normalize(v)
	}

	*r = rec
	return nil
}

func field[T any](m map[string]any, key string, conv func(any) (T, bool)) ([]T, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedRecord, key)
	}

	vs, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a list", ErrMalformedRecord, key)
	}

	res := make([]T, len(vs))
	for i, v := range vs {
		t, ok := conv(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] has invalid value %v", ErrMalformedRecord, key, i, v)
		}
		res[i] = t
	}

	return res, nil
}

// normalize turns every decoded number into a float64 so records read from
// JSON and YAML compare equal.
func normalize(v any) any {
	switch t := v.(type) {
	case []any:
		res := make([]any, len(t))
		for i := range t {
			res[i] = normalize(t[i])
		}
		return res
	case map[string]any:
		res := make(map[string]any, len(t))
		for k := range t {
			res[k] = normalize(t[k])
		}
		return res
	}

	if f, ok := toFloat(v); ok {
		return f
	}

	return v
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}

	return 0, false
}

// MarshalJSON encodes the bandit as its record.
func (b *Bandit) MarshalJSON() ([]byte, error) {
	return json.Marshal(Encode(b))
}

// UnmarshalJSON replaces the bandit with the decoded record. A random source
// set before decoding is kept.
func (b *Bandit) UnmarshalJSON(data []byte) error {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}

	var opts []Option
	if b.rand != nil {
		opts = append(opts, WithRand(b.rand))
	}
	nb, err := Decode(rec, opts...)
	if err != nil {
		return err
	}

	*b = *nb
	return nil
}

// EncodeAll encodes every named bandit.
func EncodeAll(bandits map[string]*Bandit) map[string]Record {
	recs := make(map[string]Record, len(bandits))
	for name, b := range bandits {
		recs[name] = Encode(b)
	}

	return recs
}

// DecodeAll decodes every named record. The first failure is returned with
// the experiment name.
func DecodeAll(recs map[string]Record, opts ...Option) (map[string]*Bandit, error) {
	bandits := make(map[string]*Bandit, len(recs))
	for name, rec := range recs {
		b, err := Decode(rec, opts...)
		if err != nil {
			return nil, fmt.Errorf("bandit %q: %w", name, err)
		}
		bandits[name] = b
	}

	return bandits, nil
}

// MarshalBandits writes the experiment mapping in the storage format: an
// object keyed by experiment name, indented by four spaces.
func MarshalBandits(bandits map[string]*Bandit) ([]byte, error) {
	return json.MarshalIndent(EncodeAll(bandits), "", "    ")
}

// UnmarshalBandits parses the storage format.
func UnmarshalBandits(data []byte, opts ...Option) (map[string]*Bandit, error) {
	var recs map[string]Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, err
	}

	return DecodeAll(recs, opts...)
}
