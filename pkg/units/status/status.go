// Package status implements the built-in runtime status unit. It answers
// under the "status" path: GET returns runtime information, GET paths lists
// the hosted paths, and POST shutdown asks the host to shut down through
// the runtime handle.
package status

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/pkg/document"
	"github.com/wehubfusion/Hestia/pkg/errors"
	"github.com/wehubfusion/Hestia/pkg/processor"
	"github.com/wehubfusion/Hestia/pkg/request"
	"github.com/wehubfusion/Hestia/pkg/unit"
)

// Path is the registry path the status unit claims.
const Path = "status"

// defaultRefresh is the schedule for the hosted-paths snapshot. A
// configuration document may override it with a "refresh" key.
const defaultRefresh = "@every 30s"

// Options configure the status unit. Paths is required; it is typically the
// runtime's Units method.
type Options struct {
	Paths   func() []string
	Version string
}

type statusUnit struct {
	opts    Options
	logger  *zap.Logger
	refresh string

	startedAt time.Time
	snapshot  atomic.Pointer[[]string]
	entry     cron.EntryID
	base      *unit.Base
}

// New creates the status unit.
func New(opts Options, logger *zap.Logger) (*unit.Base, error) {
	if opts.Paths == nil {
		return nil, errors.NewConfiguration("status unit requires a paths source", nil)
	}
	s := &statusUnit{opts: opts, logger: logger, refresh: defaultRefresh}

	base, err := unit.NewBase(Path, logger, unit.Hooks{
		OnCustomize:     s.customize,
		BuildProcessors: s.build,
		OnActivate:      s.activate,
		OnDispose:       s.dispose,
	})
	if err != nil {
		return nil, err
	}
	s.base = base
	return base, nil
}

func (s *statusUnit) customize(doc *document.Document) error {
	if doc.Has("refresh") {
		spec, err := doc.String("refresh")
		if err != nil {
			return err
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return errors.NewConfiguration("refresh is not a valid schedule", err)
		}
		s.refresh = spec
	}
	return nil
}

func (s *statusUnit) build(b *unit.Base) error {
	b.Register("", request.Get, processor.New(s.info))
	b.Register("paths", request.Get, processor.New(s.paths))
	b.Register("shutdown", request.Post, processor.New(s.shutdown))
	return nil
}

// activate takes the first snapshot and schedules the periodic refresh on
// the injected execution service.
func (s *statusUnit) activate() error {
	s.startedAt = time.Now()
	s.takeSnapshot()

	svc := s.base.Execution()
	if svc == nil {
		// programmatic use without injection still serves live paths
		return nil
	}
	id, err := svc.Schedule(s.refresh, func(ctx context.Context) error {
		s.takeSnapshot()
		return nil
	})
	if err != nil {
		return err
	}
	s.entry = id
	return nil
}

func (s *statusUnit) dispose() error {
	if svc := s.base.Execution(); svc != nil && s.entry != 0 {
		svc.Unschedule(s.entry)
	}
	return nil
}

func (s *statusUnit) takeSnapshot() {
	paths := s.opts.Paths()
	s.snapshot.Store(&paths)
}

func (s *statusUnit) hostedPaths() []string {
	if snap := s.snapshot.Load(); snap != nil {
		return *snap
	}
	return s.opts.Paths()
}

func (s *statusUnit) info(ctx context.Context, req request.Request) (request.Response, error) {
	body := map[string]any{
		"status": "active",
		"units":  len(s.hostedPaths()),
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.opts.Version != "" {
		body["version"] = s.opts.Version
	}
	return request.NewResponse(body), nil
}

func (s *statusUnit) paths(ctx context.Context, req request.Request) (request.Response, error) {
	return request.NewResponse(map[string]any{
		"paths": s.hostedPaths(),
	}), nil
}

// shutdown requests a host shutdown through the injected handle. The reply
// still reaches the caller; the runtime's shutdown does not wait for
// in-flight dispatches.
func (s *statusUnit) shutdown(ctx context.Context, req request.Request) (request.Response, error) {
	handle := s.base.RuntimeHandle()
	if handle == nil {
		return request.NewInternalError("no runtime handle injected"), nil
	}
	s.logger.Info("Shutdown requested through status unit")
	handle.Shutdown()
	return request.NewResponse(map[string]any{"message": "shutdown requested"}), nil
}
