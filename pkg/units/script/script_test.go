package script

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wehubfusion/Hestia/pkg/document"
	"github.com/wehubfusion/Hestia/pkg/errors"
	"github.com/wehubfusion/Hestia/pkg/request"
	"github.com/wehubfusion/Hestia/pkg/unit"
)

const quoteScript = `
({
	path: "quote",
	processors: [
		{
			verb: "GET",
			sub: "",
			handler: function (args, segments) {
				console.log("serving quote for", args.author);
				var author = args.author || "anonymous";
				return {author: author, segments: segments.length};
			}
		},
		{
			verb: "POST",
			sub: "shout",
			handler: function (args) {
				return {shout: args.text.toUpperCase() + "!"};
			}
		}
	]
})
`

const mixScript = `
({
	path: "mix",
	processors: [
		{
			verb: "GET",
			sub: "",
			handler: function (args) {
				if (args.mode === "spin") {
					while (true) {}
				}
				return {ok: true};
			}
		}
	]
})
`

func deployed(t *testing.T, src string, opts Options, doc *document.Document) *unit.Base {
	t.Helper()
	u, err := New([]byte(src), opts, zap.NewNop())
	require.NoError(t, err)
	if doc != nil {
		require.NoError(t, u.Customize(doc))
	}
	require.NoError(t, u.Initialize())
	require.NoError(t, u.Activate())
	t.Cleanup(func() { _ = u.Dispose() })
	return u
}

func call(t *testing.T, u *unit.Base, segments []string, verb request.Verb, args request.Args) (request.Response, error) {
	t.Helper()
	p := u.Processor(segments, verb)
	require.NotNil(t, p)

	req := request.NewBasic("req-1", segments)
	require.NoError(t, req.Parse(args))
	return p.Process(context.Background(), req)
}

func TestNewRejectsBadArtifacts(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"empty", ""},
		{"syntax error", "function ("},
		{"no definition", "1 + 1"},
		{"no path", `({processors: [{verb: "GET", sub: "", handler: function () {}}]})`},
		{"no processors", `({path: "x"})`},
		{"empty processors", `({path: "x", processors: []})`},
		{"no handler", `({path: "x", processors: [{verb: "GET", sub: ""}]})`},
		{"unknown verb", `({path: "x", processors: [{verb: "FLUSH", sub: "", handler: function () {}}]})`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New([]byte(tc.src), Options{}, zap.NewNop())
			require.Error(t, err)
			assert.True(t, errors.IsConfiguration(err))
		})
	}
}

func TestClaimsDeclaredPath(t *testing.T) {
	u, err := New([]byte(quoteScript), Options{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "quote", u.Path())
}

func TestHandlerAnswers(t *testing.T) {
	u := deployed(t, quoteScript, Options{PoolSize: 1}, nil)

	resp, err := call(t, u, nil, request.Get, request.Args{"author": "grace"})
	require.NoError(t, err)
	assert.Equal(t, "grace", resp.Body()["author"])
	assert.EqualValues(t, 0, resp.Body()["segments"])
}

func TestHandlerReceivesSegments(t *testing.T) {
	u := deployed(t, quoteScript, Options{PoolSize: 1}, nil)

	resp, err := call(t, u, []string{"by", "era"}, request.Get, request.Args{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, resp.Body()["segments"])
}

func TestByteArgsArriveAsStrings(t *testing.T) {
	u := deployed(t, quoteScript, Options{PoolSize: 1}, nil)

	resp, err := call(t, u, []string{"shout"}, request.Post, request.Args{"text": []byte("quiet")})
	require.NoError(t, err)
	assert.Equal(t, "QUIET!", resp.Body()["shout"])
}

func TestScriptErrorSurfaces(t *testing.T) {
	src := `({path: "boom", processors: [{verb: "GET", sub: "", handler: function () { throw new Error("kapow"); }}]})`
	u := deployed(t, src, Options{PoolSize: 1}, nil)

	_, err := call(t, u, nil, request.Get, request.Args{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kapow")
}

func TestTimeoutInterruptsAndRuntimeRecovers(t *testing.T) {
	u := deployed(t, mixScript, Options{PoolSize: 1, CallTimeout: 50 * time.Millisecond}, nil)

	_, err := call(t, u, nil, request.Get, request.Args{"mode": "spin"})
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))

	// the single pooled runtime must be usable again after the interrupt
	resp, err := call(t, u, nil, request.Get, request.Args{})
	require.NoError(t, err)
	assert.Equal(t, true, resp.Body()["ok"])
}

func TestCustomizeOverridesTimeout(t *testing.T) {
	doc, err := document.Parse([]byte(`{"mix": {"timeout_ms": 30}}`))
	require.NoError(t, err)
	u := deployed(t, mixScript, Options{PoolSize: 1}, doc)

	start := time.Now()
	_, err = call(t, u, nil, request.Get, request.Args{"mode": "spin"})
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCustomizeRejectsBadValues(t *testing.T) {
	u, err := New([]byte(mixScript), Options{}, zap.NewNop())
	require.NoError(t, err)

	doc, err := document.Parse([]byte(`{"mix": {"pool": 0}}`))
	require.NoError(t, err)

	err = u.Customize(doc)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestConsoleForwardsToHostLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	u, err := New([]byte(quoteScript), Options{PoolSize: 1}, zap.New(core))
	require.NoError(t, err)
	require.NoError(t, u.Initialize())
	require.NoError(t, u.Activate())
	t.Cleanup(func() { _ = u.Dispose() })

	_, err = call(t, u, nil, request.Get, request.Args{"author": "grace"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, logs.FilterMessage("Script console").Len(), 1)
}

func TestConcurrentCallsShareThePool(t *testing.T) {
	u := deployed(t, quoteScript, Options{PoolSize: 2}, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := u.Processor(nil, request.Get)
			req := request.NewBasic("req-n", nil)
			if err := req.Parse(request.Args{"author": "ada"}); err != nil {
				errs <- err
				return
			}
			if _, err := p.Process(context.Background(), req); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
}
