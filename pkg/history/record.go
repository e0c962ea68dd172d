package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/absmach/fedrun/pkg/errors"
)

const (
	versionWidth = 5
	dataDir      = "data"
	recordExt    = ".json"
	blobExt      = ".weights"
	indent       = "    "
)

// Version orders run records. It is rendered zero padded so that file names
// sort the same way lexically and numerically.
type Version uint64

func (v Version) String() string {
	return fmt.Sprintf("%0*d", versionWidth, uint64(v))
}

func ParseVersion(s string) (Version, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, fmt.Errorf("%w: %q", pkgerrors.ErrInvalidVersion, s)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", pkgerrors.ErrInvalidVersion, err)
	}

	return Version(n), nil
}

func (v Version) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

func (v *Version) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n uint64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("%w: %s", pkgerrors.ErrInvalidVersion, data)
		}
		*v = Version(n)

		return nil
	}
	parsed, err := ParseVersion(s)
	if err != nil {
		return err
	}
	*v = parsed

	return nil
}

// BlobRef is the weights reference stored in the record of version v,
// relative to the history directory.
func BlobRef(v Version) string {
	return path.Join(dataDir, v.String()+blobExt)
}

// Artifact is one participant's evaluation summary. Keys are free form.
type Artifact map[string]any

type FailureSummary struct {
	Error         string `json:"error"`
	ParticipantID string `json:"participant_id"`
	Phase         string `json:"phase"`
	Round         int    `json:"round"`
}

// RunRecord is the persisted metadata of one training session. Fields are
// declared in JSON key order so that encoded records have sorted keys.
type RunRecord struct {
	Artifacts        []Artifact       `json:"artifacts"`
	ElapsedTime      float64          `json:"elapsed_time"`
	Failures         []FailureSummary `json:"failures"`
	ParticipantCount int              `json:"participant_count"`
	Timestamp        time.Time        `json:"timestamp"`
	Version          Version          `json:"version"`
	WeightsRef       string           `json:"weights_ref"`
}

func (r RunRecord) Validate() error {
	if r.WeightsRef != BlobRef(r.Version) {
		return fmt.Errorf("%w: version %s references %q", ErrInvalidRecord, r.Version, r.WeightsRef)
	}
	if r.ParticipantCount < 0 || len(r.Artifacts) > r.ParticipantCount {
		return fmt.Errorf("%w: %d artifacts for %d participants", ErrInvalidRecord, len(r.Artifacts), r.ParticipantCount)
	}

	return nil
}

// Encode renders r as indented JSON. Encoding a decoded record yields the
// same bytes.
func Encode(r RunRecord) ([]byte, error) {
	if r.Artifacts == nil {
		r.Artifacts = []Artifact{}
	}
	if r.Failures == nil {
		r.Failures = []FailureSummary{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", indent)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func Decode(data []byte) (RunRecord, error) {
	var r RunRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&r); err != nil {
		return RunRecord{}, err
	}

	return r, nil
}

type RecordPage struct {
	Offset  uint64      `json:"offset"`
	Limit   uint64      `json:"limit"`
	Total   uint64      `json:"total"`
	Records []RunRecord `json:"records"`
}
