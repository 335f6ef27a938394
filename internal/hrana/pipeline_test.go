package hrana

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apprun/core/internal/hrana/adapter"
)

func newTestPipeline() (*Pipeline, *SessionManager) {
	sm := NewSessionManager(30*time.Second, time.Hour, zerolog.Nop())
	return NewPipeline(sm), sm
}

func TestRun_StatelessExecute(t *testing.T) {
	p, sm := newTestPipeline()
	defer sm.Stop()
	ad := newFakeAdapter()

	baton, results := p.Run(context.Background(), ad, nil, []StreamRequest{stmtReq("SELECT 1")})

	require.Nil(t, baton)
	require.Len(t, results, 1)
	assert.Equal(t, "ok", results[0].Type)
	assert.Equal(t, 1, ad.callCount())
}

func TestRun_BeginOpensSessionAndReturnsBaton(t *testing.T) {
	p, sm := newTestPipeline()
	defer sm.Stop()
	ad := newFakeAdapter()

	baton, results := p.Run(context.Background(), ad, nil, []StreamRequest{stmtReq("BEGIN")})

	require.NotNil(t, baton)
	assert.Equal(t, 1, sm.Count())
	assert.Equal(t, "ok", results[0].Type)
}

func TestRun_UnknownBatonIsInvalidBatonError(t *testing.T) {
	p, sm := newTestPipeline()
	defer sm.Stop()
	ad := newFakeAdapter()
	bogus := "does-not-exist"

	baton, results := p.Run(context.Background(), ad, &bogus, []StreamRequest{stmtReq("SELECT 1")})

	assert.Nil(t, baton)
	require.Len(t, results, 1)
	assert.Equal(t, "error", results[0].Type)
	assert.Equal(t, "HRANA_INVALID_BATON", results[0].Error.Code)
}

func TestRun_StoreSQLWithoutSessionErrors(t *testing.T) {
	p, sm := newTestPipeline()
	defer sm.Stop()
	ad := newFakeAdapter()
	sqlID := int64(1)

	_, results := p.Run(context.Background(), ad, nil, []StreamRequest{
		{Type: "store_sql", SQL: "SELECT 1", SQLID: &sqlID},
	})

	require.Len(t, results, 1)
	assert.Equal(t, "error", results[0].Type)
	assert.Equal(t, "HRANA_NO_SESSION", results[0].Error.Code)
}

func TestRun_ExecuteByUnknownSQLIDErrors(t *testing.T) {
	p, sm := newTestPipeline()
	defer sm.Stop()
	ad := newFakeAdapter()
	sqlID := int64(42)

	baton, _ := p.Run(context.Background(), ad, nil, []StreamRequest{stmtReq("BEGIN")})
	_, results := p.Run(context.Background(), ad, baton, []StreamRequest{
		{Type: "execute", Stmt: &Stmt{SQLID: &sqlID}},
	})

	require.Len(t, results, 1)
	assert.Equal(t, "error", results[0].Type)
	assert.Equal(t, "HRANA_UNKNOWN_SQL_ID", results[0].Error.Code)
}

// TestRun_BatchOrCondition exercises an {or:[{ok:0},{error:0}]} gate: a
// batch's second step should run whenever the first either succeeds or
// fails, and be skipped only if neither disjunct holds.
func TestRun_BatchOrCondition(t *testing.T) {
	p, sm := newTestPipeline()
	defer sm.Stop()
	ad := newFakeAdapter()
	ad.failOn["INSERT INTO t VALUES (1)"] = failure{"constraint violation"}

	zero := 0
	batch := &Batch{Steps: []BatchStep{
		{Stmt: Stmt{SQL: "INSERT INTO t VALUES (1)"}},
		{
			Condition: &Condition{Type: "or", Conds: []Condition{
				{Type: "ok", Step: &zero},
				{Type: "error", Step: &zero},
			}},
			Stmt: Stmt{SQL: "SELECT 1"},
		},
	}}

	_, results := p.Run(context.Background(), ad, nil, []StreamRequest{{Type: "batch", Batch: batch}})

	require.Len(t, results, 1)
	br := results[0].Response.BatchResult
	require.NotNil(t, br)
	assert.Nil(t, br.StepResults[0])
	assert.NotNil(t, br.StepErrors[0])
	assert.NotNil(t, br.StepResults[1]) // the OR gate passed via the error disjunct
}

// TestRun_BatchConditionReferencingFutureStepFails checks spec.md §8
// invariant 6: a condition referencing an index >= the current step
// always evaluates false.
func TestRun_BatchConditionReferencingFutureStepFails(t *testing.T) {
	p, sm := newTestPipeline()
	defer sm.Stop()
	ad := newFakeAdapter()

	one := 1
	batch := &Batch{Steps: []BatchStep{
		{Condition: &Condition{Type: "ok", Step: &one}, Stmt: Stmt{SQL: "SELECT 1"}},
		{Stmt: Stmt{SQL: "SELECT 2"}},
	}}

	_, results := p.Run(context.Background(), ad, nil, []StreamRequest{{Type: "batch", Batch: batch}})

	br := results[0].Response.BatchResult
	assert.Nil(t, br.StepResults[0])
	assert.Nil(t, br.StepErrors[0])
}

func TestRunSequence_AbortsOnFirstFailure(t *testing.T) {
	ad := newFakeAdapter()
	ad.failOn["BAD SQL"] = failure{"syntax error"}

	err := runSequence(context.Background(), ad, "SELECT 1; BAD SQL; SELECT 2")

	require.Error(t, err)
	assert.Equal(t, 2, ad.callCount()) // the third statement never runs
}

func TestDescribe_ClassifiesByPrefix(t *testing.T) {
	assert.True(t, describe("select * from t").IsReadOnly)
	assert.True(t, describe("EXPLAIN QUERY PLAN select 1").IsExplain)
	assert.False(t, describe("insert into t values (1)").IsReadOnly)
}

// TestRun_FIFOPerSession exercises the per-baton serialization: many
// concurrent exchanges sharing one baton must never interleave their
// statement execution, so the fake adapter should only ever see one
// in-flight call at a time for a given session.
func TestRun_FIFOPerSession(t *testing.T) {
	p, sm := newTestPipeline()
	defer sm.Stop()
	ad := newFakeAdapter()

	baton, _ := p.Run(context.Background(), ad, nil, []StreamRequest{stmtReq("BEGIN")})

	const n = 20
	var wg sync.WaitGroup
	var concurrent int32
	var maxConcurrent int32
	var mu sync.Mutex

	track := &trackingAdapter{inner: ad, before: func() {
		mu.Lock()
		concurrent++
		if concurrent > maxConcurrent {
			maxConcurrent = concurrent
		}
		mu.Unlock()
	}, after: func() {
		mu.Lock()
		concurrent--
		mu.Unlock()
	}}

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(context.Background(), track, baton, []StreamRequest{stmtReq("SELECT 1")})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxConcurrent)
}

// trackingAdapter wraps another adapter to observe concurrency, used only
// to verify the FIFO drain guarantee.
type trackingAdapter struct {
	inner         *fakeAdapter
	before, after func()
}

func (t *trackingAdapter) Execute(ctx context.Context, sql string, args []any) (*adapter.Result, error) {
	t.before()
	defer t.after()
	return t.inner.Execute(ctx, sql, args)
}

func (t *trackingAdapter) Close() error { return t.inner.Close() }
