package cli_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/absmach/fedrun/cli"
	"github.com/absmach/fedrun/coordinator/api"
	"github.com/absmach/fedrun/pkg/registry"
	"github.com/absmach/fedrun/pkg/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinatorCommands(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(0, logger)
	ts := httptest.NewServer(api.MakeHandler(reg, newStore(t, 1, 2), logger, "cli-instance"))
	t.Cleanup(ts.Close)
	cli.SetSDK(sdk.NewSDK(sdk.Config{CoordinatorURL: ts.URL}))

	cases := []struct {
		desc   string
		args   []string
		stdout string
		stderr string
	}{
		{desc: "participants", args: []string{"participants"}, stdout: `"available"`},
		{desc: "health", args: []string{"health"}, stdout: `"cli-instance"`},
		{desc: "runs", args: []string{"runs", "--limit", "1"}, stdout: `"00002"`},
		{desc: "latest run", args: []string{"run", "latest"}, stdout: `"data/00002.weights"`},
		{desc: "run", args: []string{"run", "1"}, stdout: `"data/00001.weights"`},
		{desc: "missing run", args: []string{"run", "9"}, stderr: "404"},
		{desc: "malformed run", args: []string{"run", "v9"}, stderr: "invalid version"},
		{desc: "run without version", args: []string{"run"}, stdout: "usage"},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			cmd := cli.NewCoordinatorCmd()
			var stdout, stderr bytes.Buffer
			cmd.SetOut(&stdout)
			cmd.SetErr(&stderr)
			cmd.SetArgs(tc.args)
			cmd.SetContext(context.Background())
			require.NoError(t, cmd.Execute())

			assert.Contains(t, stdout.String(), tc.stdout)
			assert.Contains(t, stderr.String(), tc.stderr)
		})
	}
}
