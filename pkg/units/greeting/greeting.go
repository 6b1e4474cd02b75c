// Package greeting implements the built-in greeting unit, a deployable
// smoke test for a host: customization, argument validation, and response
// shaping in one small unit.
package greeting

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/wehubfusion/Hestia/pkg/document"
	"github.com/wehubfusion/Hestia/pkg/errors"
	"github.com/wehubfusion/Hestia/pkg/processor"
	"github.com/wehubfusion/Hestia/pkg/request"
	"github.com/wehubfusion/Hestia/pkg/unit"
)

// Path is the registry path the greeting unit claims.
const Path = "greeting"

// Implementation identifies the unit in bundle manifests.
const Implementation = "greeting"

type greeter struct {
	salutation string
	tag        language.Tag
}

// New creates the greeting unit with English title casing and a "Hello"
// salutation. A configuration document may override both:
//
//	{"greeting": {"language": "tr", "salutation": "Merhaba"}}
func New(logger *zap.Logger) (*unit.Base, error) {
	g := &greeter{salutation: "Hello", tag: language.English}
	return unit.NewBase(Path, logger, unit.Hooks{
		OnCustomize:     g.customize,
		BuildProcessors: g.build,
	})
}

// Factory adapts New to the bundle factory contract. The unit is compiled
// in, so the artifact is ignored.
func Factory(_ []byte, logger *zap.Logger) (unit.Unit, error) {
	return New(logger)
}

func (g *greeter) customize(doc *document.Document) error {
	if doc.Has("language") {
		name, err := doc.String("language")
		if err != nil {
			return err
		}
		tag, err := language.Parse(name)
		if err != nil {
			return errors.NewConfiguration(fmt.Sprintf("unknown language %q", name), err)
		}
		g.tag = tag
	}
	if doc.Has("salutation") {
		s, err := doc.String("salutation")
		if err != nil {
			return err
		}
		g.salutation = s
	}
	return nil
}

func (g *greeter) build(b *unit.Base) error {
	b.Register("", request.Get, processor.New(g.greet))
	return nil
}

func (g *greeter) greet(ctx context.Context, req request.Request) (request.Response, error) {
	basic, ok := req.(*request.Basic)
	if !ok {
		return request.NewInternalError("unexpected request type"), nil
	}
	name := basic.Args().StringOr("name", "")
	if name == "" {
		return request.NewValidationFailure("name argument is required"), nil
	}

	// a Caser is stateful, so build one per call instead of sharing
	title := cases.Title(g.tag)
	return request.NewResponse(map[string]any{
		"greeting": fmt.Sprintf("%s %s", g.salutation, title.String(name)),
	}), nil
}
