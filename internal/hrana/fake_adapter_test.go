package hrana

import (
	"context"
	"sync"

	"github.com/apprun/core/internal/hrana/adapter"
)

// fakeAdapter is an in-memory adapter.Adapter for pipeline tests: it
// executes no real SQL, but records every call and lets a test script
// failures for specific statement texts.
type fakeAdapter struct {
	mu       sync.Mutex
	calls    []string
	failOn   map[string]error
	rowsFor  map[string]*adapter.Result
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{failOn: make(map[string]error), rowsFor: make(map[string]*adapter.Result)}
}

func (a *fakeAdapter) Execute(_ context.Context, sql string, args []any) (*adapter.Result, error) {
	a.mu.Lock()
	a.calls = append(a.calls, sql)
	a.mu.Unlock()

	if err, ok := a.failOn[sql]; ok {
		return nil, err
	}
	if res, ok := a.rowsFor[sql]; ok {
		return res, nil
	}
	return &adapter.Result{RowsAffected: int64(len(args))}, nil
}

func (a *fakeAdapter) Close() error { return nil }

func (a *fakeAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type failure struct{ msg string }

func (f failure) Error() string { return f.msg }

func stmtReq(sql string) StreamRequest {
	return StreamRequest{Type: "execute", Stmt: &Stmt{SQL: sql}}
}
