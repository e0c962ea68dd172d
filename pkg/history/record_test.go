package history_test

import (
	"encoding/json"
	"strings"
	"testing"

	pkgerrors "github.com/absmach/fedrun/pkg/errors"
	"github.com/absmach/fedrun/pkg/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	cases := []struct {
		desc string
		in   string
		want history.Version
		err  error
	}{
		{desc: "padded", in: "00006", want: 6},
		{desc: "unpadded", in: "42", want: 42},
		{desc: "wide", in: "123456", want: 123456},
		{desc: "empty", in: "", err: pkgerrors.ErrInvalidVersion},
		{desc: "sign", in: "-1", err: pkgerrors.ErrInvalidVersion},
		{desc: "letters", in: "v0001", err: pkgerrors.ErrInvalidVersion},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			v, err := history.ParseVersion(tc.in)
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, tc.want, v)
		})
	}
}

func TestVersionJSON(t *testing.T) {
	data, err := json.Marshal(history.Version(6))
	require.NoError(t, err)
	assert.Equal(t, `"00006"`, string(data))

	var v history.Version
	require.NoError(t, json.Unmarshal([]byte(`"00012"`), &v))
	assert.Equal(t, history.Version(12), v)

	require.NoError(t, json.Unmarshal([]byte(`13`), &v))
	assert.Equal(t, history.Version(13), v)

	assert.Error(t, json.Unmarshal([]byte(`"x"`), &v))
}

func TestEncodeSortedKeys(t *testing.T) {
	data, err := history.Encode(history.RunRecord{Version: 1, WeightsRef: history.BlobRef(1)})
	require.NoError(t, err)

	keys := []string{"artifacts", "elapsed_time", "failures", "participant_count", "timestamp", "version", "weights_ref"}
	last := -1
	for _, k := range keys {
		idx := strings.Index(string(data), `"`+k+`"`)
		require.Greater(t, idx, last, k)
		last = idx
	}
	assert.Contains(t, string(data), `"artifacts": []`)
	assert.Contains(t, string(data), `"failures": []`)
}
