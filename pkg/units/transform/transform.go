// Package transform implements the built-in JSON transform unit. A request
// carries a JSON document in its "body" argument and a gjson path in its
// "path" argument; the unit answers with the queried value. Through the
// HTTP gateway the posted body lands in the "body" argument unchanged, so
// POST /transform/get?path=user.name queries the posted document directly.
package transform

import (
	"context"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/pkg/processor"
	"github.com/wehubfusion/Hestia/pkg/request"
	"github.com/wehubfusion/Hestia/pkg/unit"
)

// Path is the registry path the transform unit claims.
const Path = "transform"

// Implementation identifies the unit in bundle manifests.
const Implementation = "transform"

// New creates the transform unit.
func New(logger *zap.Logger) (*unit.Base, error) {
	return unit.NewBase(Path, logger, unit.Hooks{
		BuildProcessors: func(b *unit.Base) error {
			b.Register("get", request.Post, processor.New(get))
			b.Register("exists", request.Post, processor.New(exists))
			return nil
		},
	})
}

// Factory adapts New to the bundle factory contract. The unit is compiled
// in, so the artifact is ignored.
func Factory(_ []byte, logger *zap.Logger) (unit.Unit, error) {
	return New(logger)
}

// query validates the shared arguments and runs the gjson lookup. A non-nil
// response is a client failure to return as-is.
func query(req request.Request) (gjson.Result, request.Response) {
	basic, ok := req.(*request.Basic)
	if !ok {
		return gjson.Result{}, request.NewInternalError("unexpected request type")
	}
	args := basic.Args()

	body, err := args.Bytes("body")
	if err != nil {
		return gjson.Result{}, request.NewValidationFailure("body argument is required")
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, request.NewValidationFailure("body is not valid JSON")
	}
	path := args.StringOr("path", "")
	if path == "" {
		return gjson.Result{}, request.NewValidationFailure("path argument is required")
	}
	return gjson.GetBytes(body, path), nil
}

func get(ctx context.Context, req request.Request) (request.Response, error) {
	result, fail := query(req)
	if fail != nil {
		return fail, nil
	}

	body := map[string]any{"exists": result.Exists()}
	if result.Exists() {
		body["value"] = result.Value()
		body["type"] = result.Type.String()
	}
	return request.NewResponse(body), nil
}

func exists(ctx context.Context, req request.Request) (request.Response, error) {
	result, fail := query(req)
	if fail != nil {
		return fail, nil
	}
	return request.NewResponse(map[string]any{"exists": result.Exists()}), nil
}
