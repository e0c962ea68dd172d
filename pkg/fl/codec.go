package fl

import (
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// DefMaxMessageSize is the default limit for one encoded message (512 MiB).
const DefMaxMessageSize = 512 * 1024 * 1024

var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}

	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		MaxArrayElements: math.MaxInt32,
		MaxMapPairs:      math.MaxInt32,
	}.DecMode()
	if err != nil {
		panic(err)
	}

	return dm
}

// Marshal encodes v as deterministic CBOR and refuses results larger than
// maxSize. A maxSize of zero disables the check.
func Marshal(v any, maxSize int) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && len(data) > maxSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(data), maxSize)
	}

	return data, nil
}

// Unmarshal decodes CBOR data into v, refusing inputs larger than maxSize.
func Unmarshal(data []byte, v any, maxSize int) error {
	if maxSize > 0 && len(data) > maxSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(data), maxSize)
	}

	return decMode.Unmarshal(data, v)
}

func EncodeWeights(w Weights, maxSize int) ([]byte, error) {
	return Marshal(w, maxSize)
}

func DecodeWeights(data []byte, maxSize int) (Weights, error) {
	var w Weights
	if err := Unmarshal(data, &w, maxSize); err != nil {
		return nil, err
	}

	return w, nil
}
