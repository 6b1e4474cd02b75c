package greeting

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/pkg/document"
	"github.com/wehubfusion/Hestia/pkg/errors"
	"github.com/wehubfusion/Hestia/pkg/request"
	"github.com/wehubfusion/Hestia/pkg/unit"
)

func deployed(t *testing.T, doc *document.Document) *unit.Base {
	t.Helper()
	u, err := New(zap.NewNop())
	require.NoError(t, err)
	if doc != nil {
		require.NoError(t, u.Customize(doc))
	}
	require.NoError(t, u.Initialize())
	require.NoError(t, u.Activate())
	return u
}

func greet(t *testing.T, u *unit.Base, args request.Args) request.Response {
	t.Helper()
	p := u.Processor(nil, request.Get)
	require.NotNil(t, p)

	req := request.NewBasic("req-1", nil)
	require.NoError(t, req.Parse(args))

	resp, err := p.Process(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func TestGreetDefaults(t *testing.T) {
	u := deployed(t, nil)
	resp := greet(t, u, request.Args{"name": "ada lovelace"})
	assert.Equal(t, http.StatusOK, resp.Status())
	assert.Equal(t, "Hello Ada Lovelace", resp.Body()["greeting"])
}

func TestGreetRequiresName(t *testing.T) {
	u := deployed(t, nil)
	resp := greet(t, u, request.Args{})
	assert.Equal(t, http.StatusBadRequest, resp.Status())
}

func TestCustomizedLanguageAndSalutation(t *testing.T) {
	doc, err := document.Parse([]byte(`{"greeting": {"language": "tr", "salutation": "Merhaba"}}`))
	require.NoError(t, err)
	u := deployed(t, doc)

	// Turkish title casing turns the dotless i into İ
	resp := greet(t, u, request.Args{"name": "istanbul"})
	assert.Equal(t, "Merhaba İstanbul", resp.Body()["greeting"])
}

func TestCustomizeRejectsUnknownLanguage(t *testing.T) {
	u, err := New(zap.NewNop())
	require.NoError(t, err)

	doc, err := document.Parse([]byte(`{"greeting": {"language": "!!"}}`))
	require.NoError(t, err)

	err = u.Customize(doc)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestFactoryIgnoresArtifact(t *testing.T) {
	u, err := Factory([]byte("ignored"), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, Path, u.Path())
}
