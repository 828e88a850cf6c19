package goja

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dop251/goja"

	"github.com/frontrow-dev/bridge/domain/entities"
	domainerrors "github.com/frontrow-dev/bridge/domain/errors"
	"github.com/frontrow-dev/bridge/infrastructure/transport"
	"github.com/frontrow-dev/bridge/wireformat"
)

var errNotConnected = errors.New("not connected")

// bindHost installs the __host and console objects the scripts use.
func (r *Runtime) bindHost() error {
	host := r.vm.NewObject()
	bindings := map[string]func(goja.FunctionCall) goja.Value{
		"dial":     r.hostDial,
		"send":     r.hostSend,
		"receive":  r.hostReceive,
		"close":    r.hostClose,
		"log":      r.hostLog,
		"describe": r.hostDescribe,
	}
	for name, fn := range bindings {
		if err := host.Set(name, fn); err != nil {
			return fmt.Errorf("bind __host.%s: %w", name, err)
		}
	}
	if err := r.vm.Set("__host", host); err != nil {
		return fmt.Errorf("bind __host: %w", err)
	}

	console := r.vm.NewObject()
	for name, level := range map[string]slog.Level{
		"log":   slog.LevelInfo,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"debug": slog.LevelDebug,
	} {
		if err := console.Set(name, func(call goja.FunctionCall) goja.Value {
			args := make([]any, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.Export()
			}
			r.logger.Log(r.ctx, level, fmt.Sprint(args...), "source", "script")
			return goja.Undefined()
		}); err != nil {
			return fmt.Errorf("bind console.%s: %w", name, err)
		}
	}
	return r.vm.Set("console", console)
}

// throw raises err as a script exception; call unwraps it again.
func (r *Runtime) throw(err error) {
	panic(r.vm.NewGoError(err))
}

// hostDial(address, port) opens the connection.
func (r *Runtime) hostDial(call goja.FunctionCall) goja.Value {
	if r.cfg.dialer == nil {
		r.throw(errors.New("no dialer configured"))
	}
	if r.conn != nil {
		r.throw(domainerrors.ErrAlreadyConnected)
	}
	address := call.Argument(0).String()
	port := call.Argument(1).ToInteger()
	if port < 0 || port > 65535 {
		r.throw(fmt.Errorf("%w: port %d out of range", domainerrors.ErrInvalidArgument, port))
	}
	conn, err := r.cfg.dialer.Dial(r.ctx, address, uint16(port))
	if err != nil {
		r.throw(err)
	}
	r.conn = conn
	return goja.Undefined()
}

// hostSend(type, body) stamps and writes one message and returns its id.
func (r *Runtime) hostSend(call goja.FunctionCall) goja.Value {
	if r.conn == nil {
		r.throw(errNotConnected)
	}
	typ := wireformat.MessageType(call.Argument(0).String())
	body, err := json.Marshal(call.Argument(1).Export())
	if err != nil {
		r.throw(fmt.Errorf("encode %s: %w", typ, err))
	}

	if typ == wireformat.TypeMachineDescription && r.cfg.validator != nil {
		res, err := r.cfg.validator.Validate(body)
		if err != nil {
			r.throw(err)
		}
		if !res.Valid {
			r.throw(fmt.Errorf("%w: machine description: %s", domainerrors.ErrInvalidArgument, res.Summary()))
		}
	}

	id := r.sequence.Next()
	frame, err := wireformat.Stamp(body, id, typ)
	if err != nil {
		r.throw(err)
	}
	if err := r.conn.WriteFrame(frame); err != nil {
		r.throw(err)
	}
	r.logger.DebugContext(r.ctx, "goja: sent message", "message_type", typ, "message_id", id)
	return r.vm.ToValue(id)
}

// hostReceive() returns the messages that arrived within the poll wait.
// Frames that do not decode are logged and skipped.
func (r *Runtime) hostReceive(goja.FunctionCall) goja.Value {
	if r.conn == nil {
		r.throw(errNotConnected)
	}
	frames, err := r.conn.ReadFrames(r.cfg.pollWait)
	switch {
	case errors.Is(err, transport.ErrFrameTooLarge):
		r.logger.WarnContext(r.ctx, "goja: dropping oversized frame", "error", err)
	case err != nil && len(frames) == 0:
		r.throw(err)
	}
	messages := make([]any, 0, len(frames))
	for _, frame := range frames {
		m, derr := wireformat.DecodeMap(frame)
		if derr != nil {
			r.logger.WarnContext(r.ctx, "goja: dropping undecodable frame", "error", derr)
			continue
		}
		messages = append(messages, m)
	}
	return r.vm.ToValue(messages)
}

// hostClose() closes the connection. A later dial opens a new one.
func (r *Runtime) hostClose(goja.FunctionCall) goja.Value {
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			r.logger.WarnContext(r.ctx, "goja: close failed", "error", err)
		}
		r.conn = nil
	}
	return goja.Undefined()
}

// hostDescribe(name, features) builds the machine description from the
// registered feature objects.
func (r *Runtime) hostDescribe(call goja.FunctionCall) goja.Value {
	raw, err := json.Marshal(call.Argument(1).Export())
	if err != nil {
		r.throw(fmt.Errorf("describe: %w", err))
	}
	var features []entities.Feature
	if err := json.Unmarshal(raw, &features); err != nil {
		r.throw(fmt.Errorf("describe: %w", err))
	}

	body, err := json.Marshal(wireformat.Describe(call.Argument(0).String(), features))
	if err != nil {
		r.throw(fmt.Errorf("describe: %w", err))
	}
	var desc map[string]any
	if err := json.Unmarshal(body, &desc); err != nil {
		r.throw(fmt.Errorf("describe: %w", err))
	}
	return r.vm.ToValue(desc)
}

// hostLog(level, message) writes to the runtime logger.
func (r *Runtime) hostLog(call goja.FunctionCall) goja.Value {
	var level slog.Level
	if err := level.UnmarshalText([]byte(call.Argument(0).String())); err != nil {
		level = slog.LevelInfo
	}
	r.logger.Log(r.ctx, level, "goja: "+call.Argument(1).String())
	return goja.Undefined()
}
