package service

import (
	"context"
	"encoding/json"
	"net/url"

	"robolabs-sync/internal/core/logger"
	"robolabs-sync/internal/features/sync/ports"

	"go.uber.org/zap"
)

// remoteRecord is the minimal shape of a RoboLabs record.
type remoteRecord struct {
	ID int64 `json:"id"`
}

// findEnvelope wraps find endpoint responses: {"data":[{...}]}.
type findEnvelope struct {
	Data []remoteRecord `json:"data"`
}

// createEnvelope wraps create endpoint responses. Synchronous creation
// returns an id; asynchronous creation returns a job id instead. The job id
// arrives as either a number or a string depending on the endpoint.
type createEnvelope struct {
	ID    int64   `json:"id"`
	JobID looseID `json:"job_id"`
}

// looseID is an identifier whose JSON form is loosely typed: a bare number
// or an arbitrary string.
type looseID string

func (l *looseID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = looseID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*l = looseID(n.String())
	return nil
}

func (l looseID) String() string { return string(l) }

// findOne queries a find endpoint with each query in turn and returns the
// first record found. Lookup failures count as a miss: the caller falls
// through to creation, where the real error surfaces if the API is down.
func findOne(ctx context.Context, api ports.APIClient, endpoint string, queries ...url.Values) *remoteRecord {
	for _, query := range queries {
		if len(query) == 0 {
			continue
		}

		res := api.Get(ctx, endpoint, query)
		if !res.OK() {
			logger.Get().Debug("Remote lookup failed, treating as miss",
				zap.String("endpoint", endpoint),
				zap.Int("code", res.HTTPCode),
				zap.String("error", res.Message),
			)
			continue
		}

		var envelope findEnvelope
		if err := res.Decode(&envelope); err != nil {
			logger.Get().Debug("Remote lookup returned undecodable body",
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
			continue
		}

		if len(envelope.Data) > 0 {
			return &envelope.Data[0]
		}
	}

	return nil
}

// findInvoiceByExternalID looks up an invoice or credit note by its
// deterministic external id.
func findInvoiceByExternalID(ctx context.Context, api ports.APIClient, externalID string) *remoteRecord {
	query := url.Values{}
	query.Set("external_id", externalID)
	return findOne(ctx, api, "invoice/find", query)
}
