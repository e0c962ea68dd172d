package scheduler

import (
	"errors"
	"fmt"
	"math"

	"github.com/absmach/fedrun/pkg/registry"
)

var ErrInvalidFraction = errors.New("sampling fraction must be in (0, 1]")

// Sampler picks the participants taking part in one phase of a round.
type Sampler interface {
	Sample(available []registry.Participant, fraction float64, minimum int) ([]registry.Participant, error)
}

// SampleSize is ceil(fraction*n) clamped to [minimum, n].
func SampleSize(n int, fraction float64, minimum int) (int, error) {
	if fraction <= 0 || fraction > 1 || math.IsNaN(fraction) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidFraction, fraction)
	}
	if n < minimum || n == 0 {
		return 0, fmt.Errorf("%w: %d available, %d required", registry.ErrNotEnoughParticipants, n, max(minimum, 1))
	}

	size := int(math.Ceil(fraction * float64(n)))

	return min(max(size, minimum), n), nil
}
