package document

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Hestia/pkg/errors"
)

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(`{"orders": {"endpoint": "https://api", "retries": 3, "debug": true}}`))
	require.NoError(t, err)
	assert.Equal(t, "orders", doc.Root())
	assert.Equal(t, []string{"debug", "endpoint", "retries"}, doc.Keys())

	endpoint, err := doc.String("endpoint")
	require.NoError(t, err)
	assert.Equal(t, "https://api", endpoint)

	retries, err := doc.Int("retries")
	require.NoError(t, err)
	assert.Equal(t, 3, retries)

	debug, err := doc.Bool("debug")
	require.NoError(t, err)
	assert.True(t, debug)
}

func TestParseRejections(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{{`},
		{"two roots", `{"a": {}, "b": {}}`},
		{"no roots", `{}`},
		{"scalar root", `{"a": 7}`},
		{"array", `[1,2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.IsConfiguration(err))
		})
	}
}

func TestTypedGetterErrors(t *testing.T) {
	doc, err := Parse([]byte(`{"cfg": {"n": 1.5, "s": "x"}}`))
	require.NoError(t, err)

	_, err = doc.String("missing")
	assert.True(t, errors.IsConfiguration(err))

	_, err = doc.String("n")
	assert.True(t, errors.IsConfiguration(err))

	_, err = doc.Int("n")
	assert.True(t, errors.IsConfiguration(err), "fractional number is not an int")

	_, err = doc.Bool("s")
	assert.True(t, errors.IsConfiguration(err))

	assert.Equal(t, "x", doc.StringOr("s", "y"))
	assert.Equal(t, "y", doc.StringOr("missing", "y"))
}

func TestChild(t *testing.T) {
	doc, err := Parse([]byte(`{"cfg": {"nats": {"url": "nats://localhost:4222"}}}`))
	require.NoError(t, err)

	child, err := doc.Child("nats")
	require.NoError(t, err)
	assert.Equal(t, "nats", child.Root())
	assert.Equal(t, "nats://localhost:4222", child.StringOr("url", ""))

	_, err = doc.Child("missing")
	assert.True(t, errors.IsConfiguration(err))
}

func TestMergeIsAdditive(t *testing.T) {
	local, err := Parse([]byte(`{"orders": {"x": 1}}`))
	require.NoError(t, err)
	shared, err := Parse([]byte(`{"shared": {"y": 2}}`))
	require.NoError(t, err)

	local.Merge(shared)
	assert.Equal(t, []string{"x", "y"}, local.Keys())
}

func TestMergeLocalWins(t *testing.T) {
	local, err := Parse([]byte(`{"orders": {"x": 1}}`))
	require.NoError(t, err)
	shared, err := Parse([]byte(`{"shared": {"x": 9, "y": 2}}`))
	require.NoError(t, err)

	local.Merge(shared)

	x, err := local.Int("x")
	require.NoError(t, err)
	assert.Equal(t, 1, x, "local value must never be overwritten")
	y, err := local.Int("y")
	require.NoError(t, err)
	assert.Equal(t, 2, y)
}

func TestMergeDeepCopies(t *testing.T) {
	local := Synthesize("orders")
	shared, err := Parse([]byte(`{"shared": {"nested": {"a": 1}}}`))
	require.NoError(t, err)

	local.Merge(shared)

	sharedChild, err := shared.Child("nested")
	require.NoError(t, err)
	sharedChild.Set("a", 99.0)

	localChild, err := local.Child("nested")
	require.NoError(t, err)
	a, err := localChild.Int("a")
	require.NoError(t, err)
	assert.Equal(t, 1, a, "merge must copy, not alias")
}

func TestMergeNilShared(t *testing.T) {
	local := Synthesize("orders")
	local.Merge(nil)
	assert.Empty(t, local.Keys())
}

func TestSynthesize(t *testing.T) {
	doc := Synthesize("com.example.Orders")
	assert.Equal(t, "com.example.Orders", doc.Root())
	assert.Empty(t, doc.Keys())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	doc := Synthesize("orders")
	doc.Set("endpoint", "https://api")

	path := filepath.Join(dir, "scratch", "orders.json")
	require.NoError(t, doc.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "orders", loaded.Root())
	assert.Equal(t, "https://api", loaded.StringOr("endpoint", ""))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
	assert.True(t, stderrors.Is(err, os.ErrNotExist), "cause is preserved through wrapping")
}
