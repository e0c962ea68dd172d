package scheduler

import (
	"math/rand/v2"

	"github.com/absmach/fedrun/pkg/registry"
)

type random struct{}

// NewRandom samples uniformly without replacement.
func NewRandom() Sampler {
	return random{}
}

func (random) Sample(available []registry.Participant, fraction float64, minimum int) ([]registry.Participant, error) {
	size, err := SampleSize(len(available), fraction, minimum)
	if err != nil {
		return nil, err
	}

	picked := make([]registry.Participant, 0, size)
	for _, i := range rand.Perm(len(available))[:size] {
		picked = append(picked, available[i])
	}

	return picked, nil
}
