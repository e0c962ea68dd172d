package api

import (
	"context"
	"errors"

	pkgerrors "github.com/absmach/fedrun/pkg/errors"
	"github.com/absmach/fedrun/pkg/history"
	"github.com/absmach/fedrun/pkg/registry"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-kit/kit/endpoint"
)

// Participants lists the registered participants.
type Participants interface {
	List() registry.ParticipantPage
}

// History reads committed run records.
type History interface {
	Latest(ctx context.Context) (history.RunRecord, error)
	Get(ctx context.Context, v history.Version) (history.RunRecord, error)
	List(ctx context.Context, offset, limit uint64) (history.RecordPage, error)
}

func listParticipantsEndpoint(participants Participants) endpoint.Endpoint {
	return func(_ context.Context, _ any) (any, error) {
		return listParticipantsResponse{
			ParticipantPage: participants.List(),
		}, nil
	}
}

func listHistoryEndpoint(store History) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listReq)
		if !ok {
			return listRecordsResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listRecordsResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		page, err := store.List(ctx, req.offset, req.limit)
		if err != nil {
			return listRecordsResponse{}, err
		}

		return listRecordsResponse{
			RecordPage: page,
		}, nil
	}
}

func latestHistoryEndpoint(store History) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		record, err := store.Latest(ctx)
		if err != nil {
			return recordResponse{}, err
		}

		return recordResponse{
			RunRecord: record,
		}, nil
	}
}

func getHistoryEndpoint(store History) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(versionReq)
		if !ok {
			return recordResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		version, err := req.validate()
		if err != nil {
			return recordResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		record, err := store.Get(ctx, version)
		if err != nil {
			return recordResponse{}, err
		}

		return recordResponse{
			RunRecord: record,
		}, nil
	}
}
