// HTTP end-to-end: bundles deployed into a runtime and served through the
// gateway, exercising argument assembly, outcome mapping, and health.
package tests

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/pkg/gateway"
	"github.com/wehubfusion/Hestia/pkg/processor"
	"github.com/wehubfusion/Hestia/pkg/request"
	"github.com/wehubfusion/Hestia/pkg/runtime"
	"github.com/wehubfusion/Hestia/pkg/unit"
)

func newGateway(t *testing.T, rt *runtime.Runtime) *httptest.Server {
	t.Helper()
	s, err := gateway.NewServer(rt, gateway.Config{}, zap.NewNop())
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body), "response body: %s", data)
	return body
}

func TestGatewayServesBundledUnits(t *testing.T) {
	rt := newHost(t)
	dir := t.TempDir()
	require.NoError(t, newDeployer(t, rt, dir).Deploy(context.Background(), writeDemoBundle(t, dir)))
	ts := newGateway(t, rt)

	resp, err := http.Get(ts.URL + "/greeting?name=ada")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Welcome Ada", decode(t, resp)["greeting"])

	resp, err = http.Post(ts.URL+"/transform/get?path=user.name", "application/json",
		strings.NewReader(`{"user": {"name": "Ada"}}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Ada", decode(t, resp)["value"])

	resp, err = http.Get(ts.URL + "/quote?author=dijkstra")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "dijkstra", decode(t, resp)["author"])
}

func TestGatewayPromotesArgHeaders(t *testing.T) {
	rt := newHost(t)
	dir := t.TempDir()
	manifest := writeFile(t, dir, "demo.bundle.toml", "[[units]]\nimplementation = \"greeting\"\n")
	require.NoError(t, newDeployer(t, rt, dir).Deploy(context.Background(), manifest))
	ts := newGateway(t, rt)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/greeting", nil)
	require.NoError(t, err)
	req.Header.Set("X-Arg-Name", "mara")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello Mara", decode(t, resp)["greeting"])
}

func TestGatewayMapsOutcomesToStatuses(t *testing.T) {
	rt := newHost(t)

	inactive := processor.New(func(ctx context.Context, req request.Request) (request.Response, error) {
		return request.NewResponse(nil), nil
	})
	moved := processor.New(func(ctx context.Context, req request.Request) (request.Response, error) {
		return request.NewResponse(nil), nil
	}).WithRedirect(
		func(req request.Request) processor.Redirect { return processor.RedirectBeforeInvoke },
		func(req request.Request, resp request.Response) string { return "https://elsewhere.example/orders" },
	)
	u, err := unit.NewBase("orders", zap.NewNop(), unit.Hooks{
		BuildProcessors: func(b *unit.Base) error {
			b.Register("", request.Get, inactive)
			b.Register("moved", request.Get, moved)
			return nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, rt.Add(u, nil, nil))
	inactive.SetActive(false)

	ts := newGateway(t, rt)
	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	resp, err := client.Get(ts.URL + "/orders")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = client.Get(ts.URL + "/orders/moved")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "https://elsewhere.example/orders", resp.Header.Get("Location"))

	resp, err = client.Get(ts.URL + "/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err := http.NewRequest("PATCH", ts.URL+"/orders", nil)
	require.NoError(t, err)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestGatewayHealthTracksRuntime(t *testing.T) {
	rt := newHost(t)
	ts := newGateway(t, rt)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, "active", body["status"])

	rt.Shutdown()

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body = decode(t, resp)
	assert.Equal(t, "inactive", body["status"])
	assert.EqualValues(t, 0, body["units"])
}
