package cli_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/absmach/fedrun/cli"
	"github.com/absmach/fedrun/pkg/fl"
	"github.com/absmach/fedrun/pkg/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, versions ...history.Version) *history.FileStore {
	t.Helper()

	s, err := history.NewFileStore(t.TempDir(), 0)
	require.NoError(t, err)
	for _, v := range versions {
		r := history.RunRecord{ParticipantCount: 3, Version: v, WeightsRef: history.BlobRef(v)}
		require.NoError(t, s.Commit(context.Background(), r, fl.Weights{{Shape: []int{1}, Data: []float64{float64(v)}}}))
	}

	return s
}

func execute(t *testing.T, args ...string) (string, string) {
	t.Helper()

	cmd := cli.NewHistoryCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())

	return stdout.String(), stderr.String()
}

func TestHistoryCommands(t *testing.T) {
	cli.SetStore(newStore(t, 1, 2))

	cases := []struct {
		desc   string
		args   []string
		stdout string
		stderr string
	}{
		{desc: "latest", args: []string{"latest"}, stdout: `"00002"`},
		{desc: "show", args: []string{"show", "1"}, stdout: `"data/00001.weights"`},
		{desc: "show missing", args: []string{"show", "7"}, stderr: "not found"},
		{desc: "show malformed", args: []string{"show", "v1"}, stderr: "invalid version"},
		{desc: "show without version", args: []string{"show"}, stdout: "usage"},
		{desc: "list", args: []string{"list", "--limit", "1"}, stdout: `"total"`},
		{desc: "verify", args: []string{"verify"}, stdout: `"valid"`},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			stdout, stderr := execute(t, tc.args...)
			assert.Contains(t, stdout, tc.stdout)
			assert.Contains(t, stderr, tc.stderr)
		})
	}
}

func TestVerifyReportsCorruptRecords(t *testing.T) {
	s := newStore(t, 1)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "00002.json"), []byte("garbage"), 0o644))
	cli.SetStore(s)

	stdout, _ := execute(t, "verify")
	assert.Contains(t, stdout, "run history is unreadable")
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := cli.LoadConfig(filepath.Join(dir, "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, cli.DefaultConfig(), cfg)

	path := filepath.Join(dir, "fedrun.toml")
	require.NoError(t, os.WriteFile(path, []byte("[history]\ndir = \"/var/lib/fedrun\"\n"), 0o644))
	cfg, err = cli.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/fedrun", cfg.History.Dir)
	assert.Equal(t, fl.DefMaxMessageSize, cfg.History.MaxMessageSize)
	assert.Equal(t, "http://localhost:7070", cfg.Coordinator.URL)

	require.NoError(t, os.WriteFile(path, []byte("[history\n"), 0o644))
	_, err = cli.LoadConfig(path)
	assert.Error(t, err)
}
