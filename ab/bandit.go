package ab

import (
	"fmt"
	"math"

	"github.com/mitchellh/copystructure"
)

// Arm is a snapshot of a single arm. Value is an opaque payload handed back
// to the caller, e.g. a color code for a button variant.
type Arm struct {
	ID     string  `json:"id"`
	Pulls  int64   `json:"pulls"`
	Reward float64 `json:"reward"`
	Value  any     `json:"value"`
}

// Bandit owns an insertion-ordered set of arms and the strategy that picks
// among them.
type Bandit struct {
	strategy Strategy
	rand     Rand
	arms     []Arm

	// extra holds record params unknown to the strategy.
	extra Params
}

type Option func(*Bandit)

// WithRand sets the random source used by the strategy. Use NewRand for
// reproducible suggestions.
func WithRand(r Rand) Option {
	return func(b *Bandit) {
		if r != nil {
			b.rand = r
		}
	}
}

// New returns a bandit with no arms.
func New(s Strategy, opts ...Option) (*Bandit, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil strategy", ErrInvalidParameter)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	b := &Bandit{
		strategy: s,
		rand:     globalRand{},
	}
	for _, o := range opts {
		o(b)
	}

	return b, nil
}

func (b *Bandit) Type() Type {
	return b.strategy.Type()
}

func (b *Bandit) Strategy() Strategy {
	return b.strategy
}

func (b *Bandit) Len() int {
	return len(b.arms)
}

// Arms returns a snapshot of all arms in insertion order.
func (b *Bandit) Arms() []Arm {
	arms := make([]Arm, len(b.arms))
	copy(arms, b.arms)
	return arms
}

func (b *Bandit) TotalPulls() int64 {
	var n int64
	for _, a := range b.arms {
		n += a.Pulls
	}
	return n
}

// AddArm appends a new arm with zero counters.
func (b *Bandit) AddArm(id string, value any) error {
	if id == "" {
		return fmt.Errorf("%w: empty arm id", ErrInvalidParameter)
	}
	if _, ok := b.index(id); ok {
		return fmt.Errorf("%w: %q", ErrDuplicateArm, id)
	}

	b.arms = append(b.arms, Arm{ID: id, Value: value})
	return nil
}

// Arm returns a snapshot of the arm.
func (b *Bandit) Arm(id string) (Arm, error) {
	i, ok := b.index(id)
	if !ok {
		return Arm{}, fmt.Errorf("%w: %q", ErrArmNotFound, id)
	}

	return b.arms[i], nil
}

// PullArm registers one impression for the arm.
func (b *Bandit) PullArm(id string) error {
	i, ok := b.index(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrArmNotFound, id)
	}

	b.arms[i].Pulls++
	return nil
}

// RewardArm credits amount to the arm's cumulative reward. The amount must be
// a finite, non-negative number.
func (b *Bandit) RewardArm(id string, amount float64) error {
	i, ok := b.index(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrArmNotFound, id)
	}
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidReward, amount)
	}

	b.arms[i].Reward += amount
	return nil
}

// SuggestArm asks the strategy for the next arm. It does not register a pull.
func (b *Bandit) SuggestArm() (Arm, error) {
	if len(b.arms) == 0 {
		return Arm{}, ErrNoArmsRegistered
	}

	i, err := b.strategy.Suggest(b.arms, b.rand)
	if err != nil {
		return Arm{}, err
	}

	return b.arms[i], nil
}

// Clone returns a deep copy of the arms sharing the strategy and random
// source. A value that cannot be copied, e.g. one holding a channel, is
// shared with the clone.
func (b *Bandit) Clone() *Bandit {
	arms := b.Arms()
	for i := range arms {
		if v, err := copystructure.Copy(arms[i].Value); err == nil {
			arms[i].Value = v
		}
	}

	c := &Bandit{
		strategy: b.strategy,
		rand:     b.rand,
		arms:     arms,
	}
	if b.extra != nil {
		c.extra = make(Params, len(b.extra))
		for k, v := range b.extra {
			if cv, err := copystructure.Copy(v); err == nil {
				v = cv
			}
			c.extra[k] = v
		}
	}

	return c
}

func (b *Bandit) index(id string) (int, bool) {
	for i := range b.arms {
		if b.arms[i].ID == id {
			return i, true
		}
	}

	return -1, false
}
