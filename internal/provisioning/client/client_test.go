package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/smallbiznis/simstore/internal/config"
	"github.com/smallbiznis/simstore/internal/provisioning/domain"
	settingsdomain "github.com/smallbiznis/simstore/internal/settings/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(config.Config{Provider: config.ProviderConfig{
		BaseURL:        srv.URL,
		AccessCode:     "access",
		Secret:         "secret",
		TimeoutSeconds: 2,
	}}, zap.NewNop())
}

func TestOrderSignsRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "/esim/order", r.URL.Path)
		assert.Equal(t, "access", r.Header.Get(headerAccessCode))
		want := Sign("secret", r.Header.Get(headerTimestamp), r.Header.Get(headerRequestID), "access", body)
		assert.Equal(t, want, r.Header.Get(headerSignature))

		var req orderBody
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "tx-1", req.TransactionID)
		assert.Equal(t, int64(120000), req.Amount)
		_, _ = w.Write([]byte(`{"success":true,"obj":{"orderNo":"B2026"}}`))
	})

	res, err := c.Order(context.Background(), domain.OrderRequest{TransactionID: "tx-1", PackageCode: "JP-5GB", PriceUnits: 120000})
	require.NoError(t, err)
	assert.Equal(t, "B2026", res.OrderNo)
}

func TestQueryMapsResources(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"obj":{"esimList":[
			{"orderNo":"B1","esimTranNo":"T1","iccid":"8988","ac":"LPA:1$x$y","esimStatus":"GOT_RESOURCE","totalVolume":1073741824,"expiredTime":"2026-07-01T00:00:00+0000"},
			{"orderNo":"B1","iccid":""}
		]}}`))
	})

	resources, err := c.Query(context.Background(), "B1")
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "8988", resources[0].ICCID)
	assert.Equal(t, "T1", resources[0].TranNo)
	require.NotNil(t, resources[0].ExpiresAt)
}

func TestErrorClassification(t *testing.T) {
	rejected := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"errorCode":"200007","errorMsg":"insufficient balance"}`))
	})
	_, err := rejected.Order(context.Background(), domain.OrderRequest{TransactionID: "tx"})
	assert.ErrorIs(t, err, domain.ErrProviderRejected)

	down := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err = down.Order(context.Background(), domain.OrderRequest{TransactionID: "tx"})
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 7; i++ {
		_, err := c.Query(context.Background(), "B1")
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrProviderUnavailable))
	}
	assert.Equal(t, int32(5), hits.Load())
}

func TestMockClientIsDeterministic(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()

	a, err := m.Order(ctx, domain.OrderRequest{TransactionID: "tx-42"})
	require.NoError(t, err)
	b, err := m.Order(ctx, domain.OrderRequest{TransactionID: "tx-42"})
	require.NoError(t, err)
	assert.Equal(t, a.OrderNo, b.OrderNo)
	assert.True(t, strings.HasPrefix(a.OrderNo, "MOCK"))

	resources, err := m.Query(ctx, a.OrderNo)
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Len(t, resources[0].ICCID, 19)

	none, err := m.Query(ctx, "B-REAL")
	require.NoError(t, err)
	assert.Empty(t, none)
}

type stubSettings struct {
	mock bool
	err  error
}

func (s stubSettings) Get(context.Context) (settingsdomain.Settings, error) {
	return settingsdomain.Settings{MockMode: s.mock}, s.err
}

func (s stubSettings) Update(context.Context, settingsdomain.Patch) (settingsdomain.Settings, error) {
	return settingsdomain.Settings{}, nil
}

func (s stubSettings) Invalidate() {}

func TestSelectorFollowsMockMode(t *testing.T) {
	real := NewMockClient()
	mock := NewMockClient()
	ctx := context.Background()

	assert.Same(t, mock, NewSelectorWith(real, mock, stubSettings{mock: true}, nil).For(ctx))
	assert.Same(t, real, NewSelectorWith(real, mock, stubSettings{mock: false}, nil).For(ctx))
	assert.Same(t, real, NewSelectorWith(real, mock, stubSettings{err: errors.New("db down")}, nil).For(ctx))
}
