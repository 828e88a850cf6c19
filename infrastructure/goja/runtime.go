// Package goja hosts the managed client object model in a goja JavaScript
// VM. The VM talks to the server through a framed connection owned by the
// Go side.
package goja

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	jsoniter "github.com/json-iterator/go"

	"github.com/frontrow-dev/bridge/domain/entities"
	domainerrors "github.com/frontrow-dev/bridge/domain/errors"
	"github.com/frontrow-dev/bridge/domain/ports"
	"github.com/frontrow-dev/bridge/wireformat"
)

//go:embed bootstrap.js
var bootstrap string

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultPollWait is how long a poll waits for frames.
const DefaultPollWait = 10 * time.Millisecond

type launcherConfig struct {
	dialer    ports.Dialer
	validator ports.DescriptionValidator
	logger    *slog.Logger
	pollWait  time.Duration
}

// Option configures a Launcher.
type Option func(*launcherConfig)

// WithDialer sets the dialer used by connect.
func WithDialer(d ports.Dialer) Option {
	return func(c *launcherConfig) {
		c.dialer = d
	}
}

// WithValidator validates every machine description before it is sent.
func WithValidator(v ports.DescriptionValidator) Option {
	return func(c *launcherConfig) {
		c.validator = v
	}
}

// WithLogger sets the logger for the runtime and its scripts.
func WithLogger(logger *slog.Logger) Option {
	return func(c *launcherConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPollWait bounds how long a poll waits for frames.
func WithPollWait(d time.Duration) Option {
	return func(c *launcherConfig) {
		if d >= 0 {
			c.pollWait = d
		}
	}
}

// Launcher starts goja runtimes.
type Launcher struct {
	cfg launcherConfig
}

var _ ports.RuntimeLauncher = (*Launcher)(nil)

// NewLauncher creates a Launcher. A dialer is required before connecting.
func NewLauncher(opts ...Option) *Launcher {
	cfg := launcherConfig{logger: slog.Default(), pollWait: DefaultPollWait}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Launcher{cfg: cfg}
}

// Start creates a VM, evaluates the bootstrap script and then every
// classpath entry in order. A directory entry contributes its *.js files in
// lexical order.
func (l *Launcher) Start(ctx context.Context, classpath []string) (ports.ManagedRuntime, error) {
	r := &Runtime{
		vm:       goja.New(),
		cfg:      l.cfg,
		logger:   l.cfg.logger,
		ctx:      ctx,
		sequence: &wireformat.Sequence{},
	}

	if err := r.bindHost(); err != nil {
		return nil, &domainerrors.InitError{Err: err}
	}
	if _, err := r.vm.RunScript("bootstrap.js", bootstrap); err != nil {
		return nil, &domainerrors.InitError{Err: fmt.Errorf("bootstrap: %w", err)}
	}

	scripts, err := expandClasspath(classpath)
	if err != nil {
		return nil, &domainerrors.InitError{Err: err}
	}
	for _, path := range scripts {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, &domainerrors.InitError{Err: fmt.Errorf("load %s: %w", path, err)}
		}
		if _, err := r.vm.RunScript(path, string(src)); err != nil {
			return nil, &domainerrors.InitError{Err: fmt.Errorf("evaluate %s: %w", path, err)}
		}
		r.logger.DebugContext(ctx, "goja: loaded script", "path", path)
	}

	obj := r.vm.Get("client")
	if obj == nil || goja.IsUndefined(obj) || goja.IsNull(obj) {
		return nil, &domainerrors.InitError{Err: errors.New("scripts removed the client object")}
	}
	r.client = obj.ToObject(r.vm)
	return r, nil
}

func expandClasspath(classpath []string) ([]string, error) {
	var out []string
	for _, entry := range classpath {
		if entry == "" {
			continue
		}
		info, err := os.Stat(entry)
		if err != nil {
			return nil, fmt.Errorf("classpath entry %s: %w", entry, err)
		}
		if !info.IsDir() {
			out = append(out, entry)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(entry, "*.js"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		out = append(out, matches...)
	}
	return out, nil
}

// Runtime is a ManagedRuntime backed by a goja VM. It is not safe for
// concurrent use.
type Runtime struct {
	vm        *goja.Runtime
	client    *goja.Object
	conn      ports.Conn
	ctx       context.Context
	logger    *slog.Logger
	sequence  *wireformat.Sequence
	cfg       launcherConfig
	closeOnce sync.Once
	closeErr  error
}

var _ ports.ManagedRuntime = (*Runtime)(nil)

// SetName forwards to client.setName.
func (r *Runtime) SetName(ctx context.Context, name string) error {
	_, err := r.call(ctx, "set_name", "setName", name)
	return err
}

// Register forwards the feature description to client.register.
func (r *Runtime) Register(ctx context.Context, feature entities.Feature) error {
	_, err := r.call(ctx, "register", "register", featureValue(feature))
	return err
}

// Connect dials the server and sends the machine description.
func (r *Runtime) Connect(ctx context.Context, address string, port uint16) error {
	_, err := r.call(ctx, "connect", "connect", address, port)
	return err
}

// Poll drains the frames that have arrived and returns the requests among
// them in arrival order. Heartbeats are answered inside the VM.
func (r *Runtime) Poll(ctx context.Context) ([]entities.InvocationRequest, error) {
	v, err := r.call(ctx, "poll", "poll")
	if err != nil {
		return nil, err
	}
	raw, ok := v.Export().([]any)
	if !ok {
		return nil, &domainerrors.RuntimeFaultError{Operation: "poll", Err: fmt.Errorf("client.poll returned %T", v.Export())}
	}
	requests := make([]entities.InvocationRequest, 0, len(raw))
	for i, item := range raw {
		req, err := toRequest(item)
		if err != nil {
			return nil, &domainerrors.RuntimeFaultError{Operation: "poll", Err: fmt.Errorf("request %d: %w", i, err)}
		}
		requests = append(requests, req)
	}
	return requests, nil
}

func toRequest(item any) (entities.InvocationRequest, error) {
	m, ok := item.(map[string]any)
	if !ok {
		return entities.InvocationRequest{}, fmt.Errorf("not an object: %T", item)
	}
	var req entities.InvocationRequest
	switch id := m["id"].(type) {
	case int64:
		req.ID = id
	case float64:
		req.ID = int64(id)
	default:
		return req, fmt.Errorf("id is %T", m["id"])
	}
	kind, _ := m["kind"].(string)
	req.Kind = entities.Kind(kind)
	req.Name, _ = m["name"].(string)
	switch args := m["arguments"].(type) {
	case nil:
	case []any:
		req.Arguments = args
	default:
		return req, fmt.Errorf("arguments is %T", args)
	}
	return req, nil
}

func featureValue(f entities.Feature) map[string]any {
	v := map[string]any{
		"kind":       string(f.Kind),
		"name":       f.Name,
		"parameters": parameterValues(f.Parameters),
		"returns":    parameterValues(f.Returns),
		"type":       f.Type,
		"range":      nil,
		"group":      f.Group,
		"direction":  f.Direction,
	}
	if f.Range != nil {
		v["range"] = map[string]any{"min": f.Range.Min, "max": f.Range.Max}
	}
	if f.Kind == entities.KindStream {
		v["format"] = f.Format
		v["address"] = f.Address
		v["port"] = f.Port
	}
	return v
}

func parameterValues(params []entities.Parameter) []any {
	out := make([]any, len(params))
	for i, p := range params {
		out[i] = map[string]any{"name": p.Name, "type": p.Type}
	}
	return out
}

// Respond hands a dispatch result to client.respond.
func (r *Runtime) Respond(ctx context.Context, result entities.InvocationResult) error {
	reply := map[string]any{
		"requestId": result.RequestID,
		"kind":      string(result.Kind),
		"name":      result.Name,
		"values":    result.Values,
		"error":     nil,
	}
	if result.Err != nil {
		reply["error"] = domainerrors.ToErrorDetail(result.Err)
	}
	_, err := r.call(ctx, "respond", "respond", reply)
	return err
}

// Shutdown sends disconnect and closes the connection. Only the first call
// has an effect.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.closeOnce.Do(func() {
		_, r.closeErr = r.call(ctx, "shutdown", "shutdown")
		if r.conn != nil {
			if err := r.conn.Close(); err != nil && r.closeErr == nil {
				r.closeErr = err
			}
		}
	})
	return r.closeErr
}

// Describe returns the machine description the VM would send now.
func (r *Runtime) Describe(ctx context.Context) (wireformat.MachineDescription, error) {
	var desc wireformat.MachineDescription
	v, err := r.call(ctx, "describe", "describe")
	if err != nil {
		return desc, err
	}
	body, err := json.Marshal(v.Export())
	if err != nil {
		return desc, &domainerrors.RuntimeFaultError{Operation: "describe", Err: err}
	}
	if err := json.Unmarshal(body, &desc); err != nil {
		return desc, &domainerrors.RuntimeFaultError{Operation: "describe", Err: err}
	}
	return desc, nil
}

// call invokes client[method]. JavaScript exceptions and Go errors raised
// by host bindings become RuntimeFaultErrors; ctx cancellation interrupts
// the VM.
func (r *Runtime) call(ctx context.Context, op, method string, args ...any) (result goja.Value, err error) {
	fn, ok := goja.AssertFunction(r.client.Get(method))
	if !ok {
		return nil, &domainerrors.RuntimeFaultError{Operation: op, Err: fmt.Errorf("client.%s is not a function", method)}
	}

	r.ctx = ctx
	stop := context.AfterFunc(ctx, func() { r.vm.Interrupt(ctx.Err()) })
	defer func() {
		stop()
		r.vm.ClearInterrupt()
		if p := recover(); p != nil {
			result, err = nil, &domainerrors.RuntimeFaultError{Operation: op, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	values := make([]goja.Value, len(args))
	for i, a := range args {
		values[i] = r.vm.ToValue(a)
	}
	result, err = fn(r.client, values...)
	if err != nil {
		return nil, &domainerrors.RuntimeFaultError{Operation: op, Err: unwrapException(err)}
	}
	return result, nil
}

// unwrapException recovers the Go error behind a script exception raised by a
// host binding, and otherwise keeps the exception text.
func unwrapException(err error) error {
	var ex *goja.Exception
	if !errors.As(err, &ex) {
		return err
	}
	if inner := ex.Unwrap(); inner != nil {
		return inner
	}
	return errors.New(strings.TrimPrefix(ex.Value().String(), "Error: "))
}
