package sandbox

import (
	"context"
	"io"
	"sync"
)

type fakeRuntime struct {
	mu        sync.Mutex
	name      string
	initCalls int
	initErr   error
	runs      []Request
	run       func(ctx context.Context, req Request, out io.Writer) error
}

func (f *fakeRuntime) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}

func (f *fakeRuntime) Init(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.initErr
}

func (f *fakeRuntime) Run(ctx context.Context, req Request, out io.Writer) error {
	f.mu.Lock()
	f.runs = append(f.runs, req)
	fn := f.run
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, req, out)
}

func (f *fakeRuntime) InitCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls
}
