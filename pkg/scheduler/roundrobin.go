package scheduler

import (
	"sync"

	"github.com/absmach/fedrun/pkg/registry"
)

type roundRobin struct {
	mu   sync.Mutex
	next int
}

// NewRoundRobin walks the available participants in ID order, continuing
// where the previous sample stopped.
func NewRoundRobin() Sampler {
	return &roundRobin{}
}

func (r *roundRobin) Sample(available []registry.Participant, fraction float64, minimum int) ([]registry.Participant, error) {
	size, err := SampleSize(len(available), fraction, minimum)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.next % len(available)
	picked := make([]registry.Participant, 0, size)
	for i := range size {
		picked = append(picked, available[(start+i)%len(available)])
	}
	r.next = (start + size) % len(available)

	return picked, nil
}
