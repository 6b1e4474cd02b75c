package transform

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/pkg/request"
	"github.com/wehubfusion/Hestia/pkg/unit"
)

const doc = `{"user": {"name": "ada", "tags": ["math", "engines"]}, "active": true}`

func deployed(t *testing.T) *unit.Base {
	t.Helper()
	u, err := New(zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, u.Initialize())
	require.NoError(t, u.Activate())
	return u
}

func post(t *testing.T, u *unit.Base, sub string, args request.Args) request.Response {
	t.Helper()
	p := u.Processor([]string{sub}, request.Post)
	require.NotNil(t, p)

	req := request.NewBasic("req-1", []string{sub})
	require.NoError(t, req.Parse(args))

	resp, err := p.Process(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func TestGetExtractsValue(t *testing.T) {
	u := deployed(t)
	resp := post(t, u, "get", request.Args{"body": []byte(doc), "path": "user.name"})

	require.Equal(t, http.StatusOK, resp.Status())
	body := resp.Body()
	assert.Equal(t, true, body["exists"])
	assert.Equal(t, "ada", body["value"])
	assert.Equal(t, "String", body["type"])
}

func TestGetIndexesArrays(t *testing.T) {
	u := deployed(t)
	resp := post(t, u, "get", request.Args{"body": []byte(doc), "path": "user.tags.1"})
	assert.Equal(t, "engines", resp.Body()["value"])
}

func TestGetAcceptsStringBody(t *testing.T) {
	u := deployed(t)
	resp := post(t, u, "get", request.Args{"body": doc, "path": "active"})
	assert.Equal(t, true, resp.Body()["value"])
	assert.Equal(t, "True", resp.Body()["type"])
}

func TestGetMissingPath(t *testing.T) {
	u := deployed(t)
	resp := post(t, u, "get", request.Args{"body": []byte(doc), "path": "user.email"})

	body := resp.Body()
	assert.Equal(t, false, body["exists"])
	assert.NotContains(t, body, "value")
}

func TestExists(t *testing.T) {
	u := deployed(t)
	resp := post(t, u, "exists", request.Args{"body": []byte(doc), "path": "user.tags"})
	assert.Equal(t, true, resp.Body()["exists"])
}

func TestRejectsInvalidJSON(t *testing.T) {
	u := deployed(t)
	resp := post(t, u, "get", request.Args{"body": []byte("{broken"), "path": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.Status())
}

func TestRejectsMissingArguments(t *testing.T) {
	u := deployed(t)

	resp := post(t, u, "get", request.Args{"path": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.Status())

	resp = post(t, u, "get", request.Args{"body": []byte(doc)})
	assert.Equal(t, http.StatusBadRequest, resp.Status())
}
