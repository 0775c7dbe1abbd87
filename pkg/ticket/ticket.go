// Package ticket issues parameterized signing-ticket requests to the
// ticket authority for every subsystem a restore can personalize: AP,
// Baseband, SE, Savage, Yonkers, Rose, Veridian, Baobab, and Timer.
package ticket

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"howett.net/plist"

	"github.com/stek29/idevicerestore/internal/logger"
	"github.com/stek29/idevicerestore/internal/telemetry"
	"github.com/stek29/idevicerestore/pkg/restoreerrors"
)

// Request is the generic tag-bag sent to the ticket authority: common
// manifest-derived tags, merged subsystem-specific tags, and the
// identifying device fields (ECID, chip IDs, nonces, serial).
type Request map[string]interface{}

// Response is the ticket authority's decoded reply.
type Response map[string]interface{}

// HasKey reports whether the response carries the named ticket key,
// confirming the request succeeded for that subsystem.
func (r Response) HasKey(key string) bool {
	_, ok := r[key]
	return ok
}

// Bytes returns the response's key as a []byte, if present.
func (r Response) Bytes(key string) ([]byte, bool) {
	v, ok := r[key].([]byte)
	return v, ok
}

// Dict returns the response's key as a nested Response, if present.
func (r Response) Dict(key string) (Response, bool) {
	switch v := r[key].(type) {
	case Response:
		return v, true
	case map[string]interface{}:
		return Response(v), true
	}
	return nil, false
}

// Client talks to the ticket authority over HTTP, encoding requests and
// decoding responses as plist dictionaries.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New constructs a Client addressing endpoint (e.g. the configured
// TicketEndpoint from restoreconfig.Options).
func New(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Request POSTs req to the ticket authority and decodes its plist reply.
func (c *Client) Request(ctx context.Context, subsystem string, req Request) (Response, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanTicketRequest, trace.WithAttributes(telemetry.Component(subsystem)))
	defer span.End()

	var buf bytes.Buffer
	enc := plist.NewEncoder(&buf)
	if err := enc.Encode(map[string]interface{}(req)); err != nil {
		err = restoreerrors.NewTicketFailure("ticket.request", err)
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		err = restoreerrors.NewTicketFailure("ticket.request", err)
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "text/xml; charset=\"utf-8\"")
	httpReq.Header.Set("Expect", "")

	logger.Debug("issuing ticket request", logger.Component(subsystem))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		err = restoreerrors.NewTicketFailure("ticket.request", err)
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = restoreerrors.NewTicketFailure("ticket.request", err)
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		err := restoreerrors.NewTicketFailure("ticket.request", fmt.Errorf("ticket authority returned HTTP %d", resp.StatusCode))
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	var raw map[string]interface{}
	if _, err := plist.Unmarshal(body, &raw); err != nil {
		err = restoreerrors.NewTicketFailure("ticket.request", fmt.Errorf("malformed ticket response: %w", err))
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	resultResp := Response(raw)
	if status, ok := resultResp["STATUS"]; ok {
		// The plist decoder yields uint64 for non-negative integers and
		// int64 for negative ones.
		var code int64
		switch v := status.(type) {
		case int64:
			code = v
		case uint64:
			code = int64(v)
		}
		if code != 0 {
			msg, _ := resultResp["MESSAGE"].(string)
			err := restoreerrors.NewTicketFailure("ticket.request", fmt.Errorf("ticket authority status %d: %s", code, msg))
			telemetry.RecordError(ctx, err)
			return nil, err
		}
	}

	logger.Info("ticket request succeeded", logger.Component(subsystem))
	return resultResp, nil
}
