package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/absmach/fedrun/pkg/api"
	"github.com/absmach/supermq"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func MakeHandler(participants Participants, store History, logger *slog.Logger, instanceID string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(apiutil.LoggingErrorEncoder(logger, api.EncodeError)),
	}

	mux.Get("/participants", otelhttp.NewHandler(kithttp.NewServer(
		listParticipantsEndpoint(participants),
		kithttp.NopRequestDecoder,
		api.EncodeResponse,
		opts...,
	), "list-participants").ServeHTTP)

	mux.Route("/history", func(r chi.Router) {
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			listHistoryEndpoint(store),
			decodeListReq,
			api.EncodeResponse,
			opts...,
		), "list-history").ServeHTTP)
		r.Get("/latest", otelhttp.NewHandler(kithttp.NewServer(
			latestHistoryEndpoint(store),
			kithttp.NopRequestDecoder,
			api.EncodeResponse,
			opts...,
		), "latest-history").ServeHTTP)
		r.Get("/{version}", otelhttp.NewHandler(kithttp.NewServer(
			getHistoryEndpoint(store),
			decodeVersionReq,
			api.EncodeResponse,
			opts...,
		), "get-history").ServeHTTP)
	})

	mux.Get("/health", supermq.Health("fedrun-coordinator", instanceID))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func decodeVersionReq(_ context.Context, r *http.Request) (any, error) {
	return versionReq{
		version: chi.URLParam(r, "version"),
	}, nil
}

func decodeListReq(_ context.Context, r *http.Request) (any, error) {
	o, err := apiutil.ReadNumQuery[uint64](r, api.OffsetKey, api.DefOffset)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	l, err := apiutil.ReadNumQuery[uint64](r, api.LimitKey, api.DefLimit)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	return listReq{
		offset: o,
		limit:  l,
	}, nil
}
