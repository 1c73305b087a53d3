package transform

import (
	"fmt"
	"math/rand"
	"time"
)

// rng seeds a private source so a fixed seed replays the same picks and
// nothing races on the global generator.
func rng(seed *int64) *rand.Rand {
	if seed != nil {
		return rand.New(rand.NewSource(*seed))
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// ----- randomOne -----

type randomOneOp struct {
	Seed *int64 `mapstructure:"seed"`
}

func (o *randomOneOp) Name() string { return "randomOne" }

func (o *randomOneOp) Apply(data any) (any, error) {
	arr, err := requireArray(data)
	if err != nil {
		return nil, err
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("empty array")
	}
	return arr[rng(o.Seed).Intn(len(arr))], nil
}

// ----- randomN -----

type randomNOp struct {
	Count int    `mapstructure:"count"`
	Seed  *int64 `mapstructure:"seed"`
}

func (o *randomNOp) Name() string { return "randomN" }

func (o *randomNOp) validate() error {
	if o.Count <= 0 {
		return fmt.Errorf("count must be positive")
	}
	return nil
}

// Apply samples count elements without replacement; fewer elements than
// count returns them all.
func (o *randomNOp) Apply(data any) (any, error) {
	arr, err := requireArray(data)
	if err != nil {
		return nil, err
	}
	out := append([]any(nil), arr...)
	rng(o.Seed).Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	if o.Count < len(out) {
		out = out[:o.Count]
	}
	return out, nil
}

// ----- shuffle -----

type shuffleOp struct {
	Seed *int64 `mapstructure:"seed"`
}

func (o *shuffleOp) Name() string { return "shuffle" }

func (o *shuffleOp) Apply(data any) (any, error) {
	arr, err := requireArray(data)
	if err != nil {
		return nil, err
	}
	out := append([]any(nil), arr...)
	rng(o.Seed).Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out, nil
}
