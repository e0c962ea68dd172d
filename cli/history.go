package cli

import (
	"context"

	"github.com/absmach/fedrun/pkg/fl"
	"github.com/absmach/fedrun/pkg/history"
	"github.com/spf13/cobra"
)

var (
	defOffset uint64 = 0
	defLimit  uint64 = 10
)

// Store is the read side of the run history.
type Store interface {
	Latest(ctx context.Context) (history.RunRecord, error)
	Get(ctx context.Context, v history.Version) (history.RunRecord, error)
	List(ctx context.Context, offset, limit uint64) (history.RecordPage, error)
	Versions(ctx context.Context) ([]history.Version, error)
	LoadBlob(ctx context.Context, ref string) (fl.Weights, error)
}

var store Store

func SetStore(s Store) {
	store = s
}

type versionStatus struct {
	Version history.Version `json:"version"`
	Tensors int             `json:"tensors,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type verifyReport struct {
	Checked  int             `json:"checked"`
	Valid    int             `json:"valid"`
	Versions []versionStatus `json:"versions"`
}

func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [list|show|latest|verify]",
		Short: "Run history",
		Long:  `Inspect committed training runs.`,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		Long:  `List committed runs, newest first.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			page, err := store.List(cmd.Context(), defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <version>",
		Short: "Show run",
		Long:  `Show the record of one run.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			v, err := history.ParseVersion(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			r, err := store.Get(cmd.Context(), v)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, r)
		},
	}

	latestCmd := &cobra.Command{
		Use:   "latest",
		Short: "Show latest run",
		Long:  `Show the record a new run would be seeded from.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			r, err := store.Latest(cmd.Context())
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, r)
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify history",
		Long:  `Check that every run record parses and its weights decode.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			report, err := verify(cmd.Context(), store)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, report)
		},
	}

	cmd.AddCommand(listCmd)
	cmd.AddCommand(showCmd)
	cmd.AddCommand(latestCmd)
	cmd.AddCommand(verifyCmd)

	cmd.PersistentFlags().Uint64VarP(
		&defOffset,
		"offset",
		"o",
		defOffset,
		"Offset",
	)

	cmd.PersistentFlags().Uint64VarP(
		&defLimit,
		"limit",
		"l",
		defLimit,
		"Limit",
	)

	return cmd
}

func verify(ctx context.Context, s Store) (verifyReport, error) {
	versions, err := s.Versions(ctx)
	if err != nil {
		return verifyReport{}, err
	}

	report := verifyReport{Versions: []versionStatus{}}
	for _, v := range versions {
		status := versionStatus{Version: v}
		report.Checked++

		r, err := s.Get(ctx, v)
		if err == nil {
			err = r.Validate()
		}
		if err == nil {
			var w fl.Weights
			w, err = s.LoadBlob(ctx, r.WeightsRef)
			status.Tensors = len(w)
		}
		if err != nil {
			status.Error = err.Error()
		} else {
			report.Valid++
		}
		report.Versions = append(report.Versions, status)
	}

	return report, nil
}
