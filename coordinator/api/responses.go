package api

import (
	"net/http"

	"github.com/absmach/fedrun/pkg/history"
	"github.com/absmach/fedrun/pkg/registry"
	"github.com/absmach/supermq"
)

var (
	_ supermq.Response = (*recordResponse)(nil)
	_ supermq.Response = (*listRecordsResponse)(nil)
	_ supermq.Response = (*listParticipantsResponse)(nil)
)

type recordResponse struct {
	history.RunRecord
}

func (r recordResponse) Code() int {
	return http.StatusOK
}

func (r recordResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r recordResponse) Empty() bool {
	return false
}

type listRecordsResponse struct {
	history.RecordPage
}

func (l listRecordsResponse) Code() int {
	return http.StatusOK
}

func (l listRecordsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listRecordsResponse) Empty() bool {
	return false
}

type listParticipantsResponse struct {
	registry.ParticipantPage
}

func (l listParticipantsResponse) Code() int {
	return http.StatusOK
}

func (l listParticipantsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listParticipantsResponse) Empty() bool {
	return false
}
