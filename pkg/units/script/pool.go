package script

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/pkg/request"
)

// key identifies one handler in the script's processor table.
type key struct {
	sub  string
	verb request.Verb
}

// instance is one JavaScript runtime with the program instantiated. goja
// runtimes are not safe for concurrent use, so instances are pooled and a
// call holds one exclusively.
type instance struct {
	vm       *goja.Runtime
	path     string
	handlers map[key]goja.Callable
}

// instantiate creates a fresh runtime, installs the console, runs the
// program, and extracts the definition it evaluates to.
func instantiate(program *goja.Program, logger *zap.Logger) (*instance, error) {
	vm := goja.New()
	if err := installConsole(vm, logger); err != nil {
		return nil, fmt.Errorf("installing console: %w", err)
	}

	value, err := vm.RunProgram(program)
	if err != nil {
		return nil, fmt.Errorf("running script: %w", err)
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, fmt.Errorf("script must evaluate to a definition object")
	}
	definition := value.ToObject(vm)

	pathValue := definition.Get("path")
	if pathValue == nil || goja.IsUndefined(pathValue) {
		return nil, fmt.Errorf("script definition has no path")
	}
	path := pathValue.String()
	if path == "" {
		return nil, fmt.Errorf("script definition has an empty path")
	}

	processorsValue := definition.Get("processors")
	if processorsValue == nil || goja.IsUndefined(processorsValue) || goja.IsNull(processorsValue) {
		return nil, fmt.Errorf("script definition has no processors")
	}
	table := processorsValue.ToObject(vm)
	length := table.Get("length")
	if length == nil || goja.IsUndefined(length) {
		return nil, fmt.Errorf("script processors must be an array")
	}
	n := length.ToInteger()
	if n == 0 {
		return nil, fmt.Errorf("script defines no processors")
	}

	inst := &instance{vm: vm, path: path, handlers: make(map[key]goja.Callable, n)}
	for i := int64(0); i < n; i++ {
		entryValue := table.Get(strconv.FormatInt(i, 10))
		if entryValue == nil || goja.IsUndefined(entryValue) || goja.IsNull(entryValue) {
			return nil, fmt.Errorf("processor %d is not an object", i)
		}
		entry := entryValue.ToObject(vm)

		verbValue := entry.Get("verb")
		if verbValue == nil || goja.IsUndefined(verbValue) {
			return nil, fmt.Errorf("processor %d has no verb", i)
		}
		verb, err := request.ParseVerb(verbValue.String())
		if err != nil {
			return nil, fmt.Errorf("processor %d: %w", i, err)
		}

		sub := ""
		if subValue := entry.Get("sub"); subValue != nil && !goja.IsUndefined(subValue) && !goja.IsNull(subValue) {
			sub = subValue.String()
		}

		handler, ok := goja.AssertFunction(entry.Get("handler"))
		if !ok {
			return nil, fmt.Errorf("processor %d has no handler function", i)
		}
		inst.handlers[key{sub: sub, verb: verb}] = handler
	}
	return inst, nil
}

func (i *instance) keys() []key {
	out := make([]key, 0, len(i.handlers))
	for k := range i.handlers {
		out = append(out, k)
	}
	return out
}

// installConsole binds console.log/info/warn/error to the host log.
func installConsole(vm *goja.Runtime, logger *zap.Logger) error {
	console := vm.NewObject()
	bind := func(name string, sink func(msg string, fields ...zap.Field)) error {
		return console.Set(name, func(call goja.FunctionCall) goja.Value {
			parts := make([]any, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.Export()
			}
			sink("Script console", zap.String("output", fmt.Sprintln(parts...)))
			return goja.Undefined()
		})
	}
	if err := bind("log", logger.Debug); err != nil {
		return err
	}
	if err := bind("info", logger.Info); err != nil {
		return err
	}
	if err := bind("warn", logger.Warn); err != nil {
		return err
	}
	if err := bind("error", logger.Error); err != nil {
		return err
	}
	return vm.Set("console", console)
}

// pool holds ready instances. Acquire blocks until an instance is free or
// the context expires; the pool never grows past its initial size.
type pool struct {
	vms    chan *instance
	mu     sync.Mutex
	closed bool
}

func newPool(program *goja.Program, logger *zap.Logger, size int) (*pool, error) {
	p := &pool{vms: make(chan *instance, size)}
	for i := 0; i < size; i++ {
		inst, err := instantiate(program, logger)
		if err != nil {
			return nil, err
		}
		p.vms <- inst
	}
	return p, nil
}

func (p *pool) acquire(ctx context.Context) (*instance, error) {
	select {
	case inst, ok := <-p.vms:
		if !ok {
			return nil, fmt.Errorf("script pool is closed")
		}
		return inst, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pool) release(inst *instance) {
	// a leftover interrupt from a timed-out call must not poison the next one
	inst.vm.ClearInterrupt()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.vms <- inst
}

func (p *pool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.vms)
	for range p.vms {
	}
}
