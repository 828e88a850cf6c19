package testutil

import (
	"context"
	"errors"

	"github.com/frontrow-dev/bridge/domain/entities"
	"github.com/frontrow-dev/bridge/domain/ports"
)

// FakeRuntime is a scripted ManagedRuntime. Requests queued with Enqueue
// are returned by the next Poll; every other call is recorded.
type FakeRuntime struct {
	// Error injection per operation; nil means success.
	SetNameErr  error
	RegisterErr error
	ConnectErr  error
	PollErr     error
	RespondErr  error
	ShutdownErr error

	Names     []string
	Features  []entities.Feature
	Connects  []string
	Responses []entities.InvocationResult

	pending   []entities.InvocationRequest
	Shutdowns int
	Polls     int
}

var _ ports.ManagedRuntime = (*FakeRuntime)(nil)

// Enqueue schedules requests for the next Poll.
func (f *FakeRuntime) Enqueue(reqs ...entities.InvocationRequest) {
	f.pending = append(f.pending, reqs...)
}

func (f *FakeRuntime) SetName(_ context.Context, name string) error {
	if f.SetNameErr != nil {
		return f.SetNameErr
	}
	f.Names = append(f.Names, name)
	return nil
}

func (f *FakeRuntime) Register(_ context.Context, feature entities.Feature) error {
	if f.RegisterErr != nil {
		return f.RegisterErr
	}
	f.Features = append(f.Features, feature)
	return nil
}

func (f *FakeRuntime) Connect(_ context.Context, address string, _ uint16) error {
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.Connects = append(f.Connects, address)
	return nil
}

func (f *FakeRuntime) Poll(context.Context) ([]entities.InvocationRequest, error) {
	f.Polls++
	if f.PollErr != nil {
		return nil, f.PollErr
	}
	reqs := f.pending
	f.pending = nil
	return reqs, nil
}

func (f *FakeRuntime) Respond(_ context.Context, result entities.InvocationResult) error {
	if f.RespondErr != nil {
		return f.RespondErr
	}
	f.Responses = append(f.Responses, result)
	return nil
}

func (f *FakeRuntime) Shutdown(context.Context) error {
	f.Shutdowns++
	return f.ShutdownErr
}

// FakeLauncher starts Runtime, or fails with Err.
type FakeLauncher struct {
	Runtime   *FakeRuntime
	Err       error
	Classpath []string
	Starts    int
}

var _ ports.RuntimeLauncher = (*FakeLauncher)(nil)

func (l *FakeLauncher) Start(_ context.Context, classpath []string) (ports.ManagedRuntime, error) {
	l.Starts++
	l.Classpath = classpath
	if l.Err != nil {
		return nil, l.Err
	}
	if l.Runtime == nil {
		return nil, errors.New("fake launcher has no runtime")
	}
	return l.Runtime, nil
}
