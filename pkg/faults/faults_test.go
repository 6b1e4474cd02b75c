package faults

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/pkg/errors"
)

func TestRegistryLookup(t *testing.T) {
	h, err := New("log", Config{}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, h)
	defer h.Close()

	h.Report(stderrors.New("boom"), map[string]string{"path": "orders"})
}

func TestRegistryUnknownName(t *testing.T) {
	_, err := New("pager", Config{}, zap.NewNop())
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestRegisterCustomHandler(t *testing.T) {
	var reported []error
	Register("capture", func(_ Config, _ *zap.Logger) (Handler, error) {
		return handlerFunc(func(err error, _ map[string]string) {
			reported = append(reported, err)
		}), nil
	})

	h, err := New("capture", Config{}, zap.NewNop())
	require.NoError(t, err)
	h.Report(stderrors.New("one"), nil)
	h.Report(stderrors.New("two"), nil)
	assert.Len(t, reported, 2)

	assert.Contains(t, Names(), "capture")
}

func TestLogHandlerRequiresLogger(t *testing.T) {
	_, err := NewLogHandler(Config{}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestSentryHandlerRequiresDSN(t *testing.T) {
	_, err := NewSentryHandler(Config{}, zap.NewNop())
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

type handlerFunc func(err error, tags map[string]string)

func (f handlerFunc) Report(err error, tags map[string]string) { f(err, tags) }
func (f handlerFunc) Close()                                   {}
