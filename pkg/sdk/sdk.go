package sdk

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/absmach/fedrun/pkg/history"
	"github.com/absmach/fedrun/pkg/usage"
)

const CTJSON string = "application/json"

var ErrUnexpectedStatus = errors.New("unexpected response code")

type PageMetadata struct {
	Offset uint64 `json:"offset"`
	Limit  uint64 `json:"limit"`
}

type Participant struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	ConnectedAt  time.Time    `json:"connected_at"`
	Alive        bool         `json:"alive"`
	AliveHistory []time.Time  `json:"alive_history"`
	Usage        *usage.Usage `json:"usage,omitempty"`
}

type ParticipantPage struct {
	Total        uint64        `json:"total"`
	Available    uint64        `json:"available"`
	Participants []Participant `json:"participants"`
}

type Health struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	Description string `json:"description"`
	BuildTime   string `json:"build_time"`
	InstanceID  string `json:"instance_id"`
}

type SDK interface {
	// Participants lists the participants known to the coordinator.
	//
	// example:
	//  page, _ := sdk.Participants(ctx)
	//  fmt.Println(page.Available)
	Participants(ctx context.Context) (ParticipantPage, error)

	// Runs lists committed runs, newest first.
	//
	// example:
	//  page, _ := sdk.Runs(ctx, PageMetadata{Offset: 0, Limit: 10})
	//  fmt.Println(page.Records)
	Runs(ctx context.Context, pm PageMetadata) (history.RecordPage, error)

	// Run returns the record of one committed run.
	//
	// example:
	//  record, _ := sdk.Run(ctx, 5)
	//  fmt.Println(record.WeightsRef)
	Run(ctx context.Context, v history.Version) (history.RunRecord, error)

	// LatestRun returns the record the next run will be seeded from.
	//
	// example:
	//  record, _ := sdk.LatestRun(ctx)
	//  fmt.Println(record.Version)
	LatestRun(ctx context.Context) (history.RunRecord, error)

	// Health reports the coordinator status.
	Health(ctx context.Context) (Health, error)
}

type fedSDK struct {
	coordinatorURL string
	client         *http.Client
}

type Config struct {
	CoordinatorURL  string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &fedSDK{
		coordinatorURL: cfg.CoordinatorURL,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

func (sdk *fedSDK) Participants(ctx context.Context) (ParticipantPage, error) {
	var page ParticipantPage
	if err := sdk.get(ctx, "/participants", &page); err != nil {
		return ParticipantPage{}, err
	}

	return page, nil
}

func (sdk *fedSDK) Runs(ctx context.Context, pm PageMetadata) (history.RecordPage, error) {
	endpoint := "/history"
	if pm.Limit > 0 {
		endpoint = fmt.Sprintf("%s?offset=%d&limit=%d", endpoint, pm.Offset, pm.Limit)
	}

	var page history.RecordPage
	if err := sdk.get(ctx, endpoint, &page); err != nil {
		return history.RecordPage{}, err
	}

	return page, nil
}

func (sdk *fedSDK) Run(ctx context.Context, v history.Version) (history.RunRecord, error) {
	var r history.RunRecord
	if err := sdk.get(ctx, "/history/"+v.String(), &r); err != nil {
		return history.RunRecord{}, err
	}

	return r, nil
}

func (sdk *fedSDK) LatestRun(ctx context.Context) (history.RunRecord, error) {
	var r history.RunRecord
	if err := sdk.get(ctx, "/history/latest", &r); err != nil {
		return history.RunRecord{}, err
	}

	return r, nil
}

func (sdk *fedSDK) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := sdk.get(ctx, "/health", &h); err != nil {
		return Health{}, err
	}

	return h, nil
}

func (sdk *fedSDK) get(ctx context.Context, endpoint string, v any) error {
	body, err := sdk.processRequest(ctx, http.MethodGet, sdk.coordinatorURL+endpoint, nil, http.StatusOK)
	if err != nil {
		return err
	}

	return json.Unmarshal(body, v)
}

func (sdk *fedSDK) processRequest(ctx context.Context, method, reqURL string, data []byte, expectedRespCode int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	req.Header.Add("Content-Type", CTJSON)

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode != expectedRespCode {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return []byte{}, fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, e.Error)
		}

		return []byte{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	return body, nil
}
