package api

import (
	"github.com/absmach/fedrun/pkg/api"
	"github.com/absmach/fedrun/pkg/history"
	apiutil "github.com/absmach/supermq/api/http/util"
)

type versionReq struct {
	version string
}

func (r *versionReq) validate() (history.Version, error) {
	if r.version == "" {
		return 0, apiutil.ErrMissingID
	}

	return history.ParseVersion(r.version)
}

type listReq struct {
	offset, limit uint64
}

func (r *listReq) validate() error {
	if r.limit > api.MaxLimitSize {
		return apiutil.ErrLimitSize
	}

	return nil
}
