package usage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStat(t *testing.T, procRoot string, utime, stime, rssPages, total string) {
	t.Helper()

	fields := make([]string, 22)
	for i := range fields {
		fields[i] = "0"
	}
	fields[0] = "S"
	fields[11] = utime
	fields[12] = stime
	fields[21] = rssPages

	require.NoError(t, os.MkdirAll(filepath.Join(procRoot, "self"), 0o755))
	stat := "4242 (fed run) " + strings.Join(fields, " ") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(procRoot, "self", "stat"), []byte(stat), 0o644))
	cpu := "cpu  " + total + " 0 0 0\ncpu0 1 2 3 4\n"
	require.NoError(t, os.WriteFile(filepath.Join(procRoot, "stat"), []byte(cpu), 0o644))
}

func newTestCollector(t *testing.T) (*Collector, string, string) {
	t.Helper()

	procRoot, cgroupRoot := t.TempDir(), t.TempDir()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewCollector()
	c.procRoot = procRoot
	c.cgroupRoot = cgroupRoot
	c.now = func() time.Time { return now }

	return c, procRoot, cgroupRoot
}

func TestCollectCPU(t *testing.T) {
	c, procRoot, _ := newTestCollector(t)

	writeStat(t, procRoot, "200", "100", "10", "1000")
	first := c.Collect()
	assert.InDelta(t, 2.0, first.CPU.UserSeconds, 1e-9)
	assert.InDelta(t, 1.0, first.CPU.SystemSeconds, 1e-9)
	assert.Zero(t, first.CPU.Percent)
	assert.Equal(t, uint64(10*os.Getpagesize()), first.Memory.RSSBytes)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), first.Timestamp)
	assert.Positive(t, first.Goroutines)

	writeStat(t, procRoot, "250", "150", "10", "1400")
	second := c.Collect()
	assert.InDelta(t, 25.0, second.CPU.Percent, 1e-9)
}

func TestCollectCgroup(t *testing.T) {
	cases := []struct {
		desc  string
		files map[string]string
		usage uint64
		limit uint64
	}{
		{
			desc:  "v2 limited",
			files: map[string]string{"memory.current": "4096\n", "memory.max": "8192\n"},
			usage: 4096,
			limit: 8192,
		},
		{
			desc:  "v2 unlimited",
			files: map[string]string{"memory.current": "4096\n", "memory.max": "max\n"},
			usage: 4096,
		},
		{
			desc: "v1",
			files: map[string]string{
				"memory/memory.usage_in_bytes": "2048",
				"memory/memory.limit_in_bytes": "65536",
			},
			usage: 2048,
			limit: 65536,
		},
		{
			desc:  "missing",
			files: map[string]string{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			c, _, cgroupRoot := newTestCollector(t)
			for name, content := range tc.files {
				path := filepath.Join(cgroupRoot, name)
				require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
				require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			}

			u := c.Collect()
			assert.Equal(t, tc.usage, u.Memory.ContainerUsageBytes)
			assert.Equal(t, tc.limit, u.Memory.ContainerLimitBytes)
		})
	}
}

func TestCollectWithoutProc(t *testing.T) {
	c, _, _ := newTestCollector(t)

	u := c.Collect()
	assert.Zero(t, u.CPU)
	assert.Zero(t, u.Memory.RSSBytes)
	assert.Positive(t, u.Memory.HeapAllocBytes)
}
