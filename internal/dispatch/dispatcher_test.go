package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bondai/universal-reporter/internal/payload"
	pkgerrors "github.com/bondai/universal-reporter/pkg/errors"
	"github.com/bondai/universal-reporter/pkg/hub"
	"github.com/bondai/universal-reporter/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu    sync.Mutex
	calls []payload.Record
	resp  hub.Response
	err   error
}

func (f *fakeTransport) Send(_ context.Context, rec payload.Record) (hub.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rec)
	return f.resp, f.err
}

func record() payload.Record {
	return payload.BuildAt("BAURLMID1234567890", payload.Amounts{
		Amount:   decimal.RequireFromString("79.99"),
		Discount: decimal.RequireFromString("10"),
	}, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
}

func TestDispatchSuccess(t *testing.T) {
	transport := &fakeTransport{resp: hub.Response{StatusCode: 201, Body: []byte(`{"success":true,"data":{"id":"r-1"}}`)}}
	var got []Result
	d := New(Params{Transport: transport, OnStatus: func(r Result) { got = append(got, r) }})

	res := d.Dispatch(context.Background(), record())
	assert.True(t, res.OK)
	assert.Equal(t, map[string]any{"id": "r-1"}, res.Data)
	assert.Empty(t, res.Errors)
	require.Len(t, transport.calls, 1)
	require.Len(t, got, 1)
	assert.Equal(t, res, got[0])
}

func TestDispatchRelayEnvelopeCountsAsSuccess(t *testing.T) {
	transport := &fakeTransport{resp: hub.Response{StatusCode: 200, Body: []byte(`{"ok":true,"status":200,"data":{"success":true},"errors":[]}`)}}
	res := New(Params{Transport: transport}).Dispatch(context.Background(), record())
	assert.True(t, res.OK)
}

func TestDispatchUpstreamFailure(t *testing.T) {
	transport := &fakeTransport{resp: hub.Response{StatusCode: 401, Body: []byte(`{"success":false,"errors":[{"message":"Invalid API key"}]}`)}}
	res := New(Params{Transport: transport}).Dispatch(context.Background(), record())

	assert.False(t, res.OK)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Invalid API key", res.Errors[0].Message)
}

func TestDispatchSuccessFlagNeeds2xx(t *testing.T) {
	transport := &fakeTransport{resp: hub.Response{StatusCode: 500, Body: []byte(`{"success":true}`)}}
	res := New(Params{Transport: transport}).Dispatch(context.Background(), record())

	assert.False(t, res.OK)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Bondai API request failed.", res.Errors[0].Message)
	assert.Equal(t, 500, res.Errors[0].Status)
}

func TestDispatchNonJSONBody(t *testing.T) {
	transport := &fakeTransport{resp: hub.Response{StatusCode: 502, Body: []byte(`<html>bad gateway</html>`)}}
	res := New(Params{Transport: transport}).Dispatch(context.Background(), record())

	assert.False(t, res.OK)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "<html>bad gateway</html>", res.Errors[0].Detail)
}

func TestDispatchNetworkError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewReporterMetrics(reg)
	transport := &fakeTransport{err: pkgerrors.Wrap(pkgerrors.CodeTransport, errors.New("connection refused"), "execute redemption request")}
	var got Result
	d := New(Params{Transport: transport, OnStatus: func(r Result) { got = r }, Metrics: m})

	res := d.Dispatch(context.Background(), record())
	assert.False(t, res.OK)
	assert.Nil(t, res.Data)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Network error", res.Errors[0].Message)
	assert.Equal(t, "connection refused", res.Errors[0].Detail)
	assert.Equal(t, res, got)
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "bondai_reporter_dispatch_total"))
}

func TestRejectSkipsTransport(t *testing.T) {
	transport := &fakeTransport{}
	var got Result
	d := New(Params{Transport: transport, OnStatus: func(r Result) { got = r }})

	res := d.Reject(context.Background(), MissingIdentifier())
	assert.Empty(t, transport.calls)
	assert.False(t, res.OK)
	assert.Nil(t, res.Data)
	assert.Equal(t, []ErrorDetail{{Message: "Missing MID"}}, got.Errors)
}

func TestStatusCallbackPanicIsContained(t *testing.T) {
	transport := &fakeTransport{resp: hub.Response{StatusCode: 200, Body: []byte(`{"success":true}`)}}
	d := New(Params{Transport: transport, OnStatus: func(Result) { panic("page script error") }})
	assert.NotPanics(t, func() { d.Dispatch(context.Background(), record()) })
}

func TestResultJSONShape(t *testing.T) {
	data, err := json.Marshal(Result{Errors: []ErrorDetail{MissingIdentifier()}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":false,"data":null,"errors":[{"message":"Missing MID"}]}`, string(data))
}

func TestDecodeErrorShapes(t *testing.T) {
	assert.Nil(t, decodeErrors(nil))
	assert.Equal(t, []ErrorDetail{{Message: "bad"}}, decodeErrors("bad"))
	assert.Equal(t, []ErrorDetail{{Message: "a"}, {Message: "b", Status: 400, Detail: "x"}},
		decodeErrors([]any{"a", map[string]any{"message": "b", "status": float64(400), "detail": "x"}}))
}

func TestHTTPTransportPostsRecord(t *testing.T) {
	var gotKey string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(hub.APIKeyHeader)
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	client, err := hub.NewClient(srv.URL, "merchant-key")
	require.NoError(t, err)

	res := New(Params{Transport: NewHTTPTransport(client)}).Dispatch(context.Background(), record())
	assert.True(t, res.OK)
	assert.Equal(t, "merchant-key", gotKey)
	assert.Equal(t, "BAURLMID1234567890", body["member_partner_key"])
	assert.Equal(t, 79.99, body["offer_amount"])
	assert.Equal(t, 10.0, body["offer_savings_amount"])
}
