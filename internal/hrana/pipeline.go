// Package hrana implements the HRANA Protocol Server of spec.md §4.4: a
// pipelined database-access protocol multiplexer translating
// statement/batch/prepared-statement/transaction requests onto pluggable
// DatabaseAdapters, with baton-based session continuity and conditional
// batch execution.
package hrana

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/apprun/core/internal/apperrors"
	"github.com/apprun/core/internal/hrana/adapter"
)

// Pipeline executes one HTTP/WebSocket pipeline exchange: baton
// resolution, adapter selection, and strictly-ordered execution of every
// stream request, per spec.md §4.4/§5.
type Pipeline struct {
	Sessions *SessionManager
}

// NewPipeline constructs a Pipeline over the given SessionManager.
func NewPipeline(sm *SessionManager) *Pipeline {
	return &Pipeline{Sessions: sm}
}

// Run implements spec.md §4.4's baton semantics and per-request dispatch.
// It never returns a Go error: every failure surfaces as a typed error
// result inside the returned envelopes, per spec.md §7's HRANA row
// ("never throws out of the server").
func (p *Pipeline) Run(ctx context.Context, ad adapter.Adapter, baton *string, requests []StreamRequest) (*string, []ResultEnvelope) {
	var session *Session

	if baton != nil {
		s, ok := p.Sessions.Get(*baton)
		if !ok {
			return nil, []ResultEnvelope{errEnvelope(MapError(apperrors.HranaInvalidBaton()))}
		}
		session = s
	} else if requestsOpenTransaction(requests) {
		session = p.Sessions.Create(ad)
	}

	var results []ResultEnvelope
	runAll := func() {
		results = make([]ResultEnvelope, 0, len(requests))
		for _, req := range requests {
			env := p.runOne(ctx, ad, &session, req)
			results = append(results, env)
		}
	}

	// A session's statement map and adapter are shared mutable state: two
	// exchanges racing on the same baton must run FIFO, not interleaved
	// (spec.md §5/§8), so route through the session's own drain goroutine.
	if session != nil {
		session.RunExclusive(runAll)
	} else {
		runAll()
	}

	var outBaton *string
	if session != nil {
		outBaton = &session.ID
	}
	return outBaton, results
}

func (p *Pipeline) runOne(ctx context.Context, ad adapter.Adapter, session **Session, req StreamRequest) ResultEnvelope {
	switch req.Type {
	case "execute":
		if req.Stmt == nil {
			return errEnvelope(MapError(apperrors.New(apperrors.ErrCodeBadRequest, "execute request missing stmt")))
		}
		res, err := executeStmt(ctx, ad, *session, *req.Stmt)
		if err != nil {
			e := MapError(err)
			return errEnvelope(e)
		}
		return okEnvelope(StreamResult{Type: "execute", Execute: res})

	case "batch":
		if req.Batch == nil {
			return errEnvelope(MapError(apperrors.New(apperrors.ErrCodeBadRequest, "batch request missing batch")))
		}
		br := runBatch(ctx, ad, *session, req.Batch)
		return okEnvelope(StreamResult{Type: "batch", BatchResult: br})

	case "sequence":
		if err := runSequence(ctx, ad, req.SQL); err != nil {
			return errEnvelope(MapError(err))
		}
		return okEnvelope(StreamResult{Type: "sequence"})

	case "describe":
		sql := req.SQL
		if req.Stmt != nil {
			sql = req.Stmt.SQL
		}
		return okEnvelope(StreamResult{Type: "describe", Describe: describe(sql)})

	case "store_sql":
		if *session == nil {
			return errEnvelope(MapError(apperrors.HranaNoSession()))
		}
		if req.SQLID == nil {
			return errEnvelope(MapError(apperrors.New(apperrors.ErrCodeBadRequest, "store_sql missing sql_id")))
		}
		(*session).StoreSQL(*req.SQLID, req.SQL)
		return okEnvelope(StreamResult{Type: "store_sql"})

	case "close_sql":
		if *session != nil && req.SQLID != nil {
			(*session).CloseSQL(*req.SQLID)
		}
		return okEnvelope(StreamResult{Type: "close_sql"})

	case "close":
		if *session != nil {
			p.Sessions.Delete((*session).ID)
			*session = nil
		}
		return okEnvelope(StreamResult{Type: "close"})

	case "get_autocommit":
		autocommit := true
		return okEnvelope(StreamResult{Type: "get_autocommit", IsAutocommit: &autocommit})

	default:
		return errEnvelope(MapError(apperrors.New(apperrors.ErrCodeBadRequest, fmt.Sprintf("unknown stream request type %q", req.Type))))
	}
}

// executeStmt resolves stmt's SQL (inline or by sql_id), builds positional
// args, executes it through ad, and shapes a StmtResult, per spec.md §4.4.
func executeStmt(ctx context.Context, ad adapter.Adapter, session *Session, stmt Stmt) (*StmtResult, error) {
	sql := stmt.SQL
	if stmt.SQLID != nil {
		if session == nil {
			return nil, apperrors.HranaUnknownSQL(*stmt.SQLID)
		}
		stored, ok := session.LookupSQL(*stmt.SQLID)
		if !ok {
			return nil, apperrors.HranaUnknownSQL(*stmt.SQLID)
		}
		sql = stored
	}

	if session != nil {
		trackTransactionState(session, sql)
	}

	args := buildArgs(stmt)
	result, err := ad.Execute(ctx, sql, args)
	if err != nil {
		return nil, err
	}

	var rows [][]Value
	if stmt.wantsRows() {
		rows = make([][]Value, len(result.Rows))
		for i, row := range result.Rows {
			wireRow := make([]Value, len(row))
			for j, v := range row {
				wireRow[j] = ToHranaValue(v)
			}
			rows[i] = wireRow
		}
	}

	var lastInsert *string
	if result.LastInsertRowID != 0 {
		s := strconv.FormatInt(result.LastInsertRowID, 10)
		lastInsert = &s
	}

	return &StmtResult{
		Cols:            result.Columns,
		Rows:            rows,
		RowsAffected:    result.RowsAffected,
		LastInsertRowID: lastInsert,
	}, nil
}

// buildArgs implements spec.md §4.4's "args preferred; if named_args
// present, submit values in declared order" rule. Named parameter
// substitution into the SQL text itself is deliberately not performed —
// that remains the adapter's concern (spec.md §9 Open Questions).
func buildArgs(stmt Stmt) []any {
	if len(stmt.Args) > 0 {
		out := make([]any, len(stmt.Args))
		for i, v := range stmt.Args {
			out[i] = FromHranaValue(v)
		}
		return out
	}
	if len(stmt.NamedArgs) > 0 {
		out := make([]any, len(stmt.NamedArgs))
		for i, na := range stmt.NamedArgs {
			out[i] = FromHranaValue(na.Value)
		}
		return out
	}
	return nil
}

// runBatch executes a batch's steps in order, evaluating each step's
// condition against the steps executed so far, per spec.md §4.4/§8
// invariant 6.
func runBatch(ctx context.Context, ad adapter.Adapter, session *Session, batch *Batch) *BatchResult {
	n := len(batch.Steps)
	stepResults := make([]*StmtResult, n)
	stepErrors := make([]*Error, n)

	for i, step := range batch.Steps {
		if step.Condition != nil && !evalCondition(step.Condition, i, stepResults, stepErrors) {
			continue // leaves stepResults[i]/stepErrors[i] nil, per invariant 6
		}
		res, err := executeStmt(ctx, ad, session, step.Stmt)
		if err != nil {
			e := MapError(err)
			stepErrors[i] = &e
			continue
		}
		stepResults[i] = res
	}

	return &BatchResult{StepResults: stepResults, StepErrors: stepErrors}
}

// evalCondition implements spec.md §4.4's condition table. Indices
// outside [0, i) fail the condition silently, per spec.md §8 invariant 6.
func evalCondition(cond *Condition, i int, results []*StmtResult, errs []*Error) bool {
	if cond == nil {
		return true
	}
	switch cond.Type {
	case "ok":
		if cond.Step == nil {
			return true
		}
		idx := *cond.Step
		if idx < 0 || idx >= i {
			return false
		}
		return results[idx] != nil
	case "error":
		if cond.Step == nil {
			return true
		}
		idx := *cond.Step
		if idx < 0 || idx >= i {
			return false
		}
		return errs[idx] != nil
	case "not":
		return !evalCondition(cond.Cond, i, results, errs)
	case "and":
		for _, c := range cond.Conds {
			if !evalCondition(&c, i, results, errs) {
				return false
			}
		}
		return true
	case "or":
		for _, c := range cond.Conds {
			if evalCondition(&c, i, results, errs) {
				return true
			}
		}
		return false
	case "is_autocommit":
		want := cond.IsAutocommit == nil || *cond.IsAutocommit
		return want // the server's autocommit state is always true
	default:
		return true
	}
}

// runSequence splits sql on ';' and executes each non-empty statement in
// order, aborting on the first failure, per spec.md §4.4.
func runSequence(ctx context.Context, ad adapter.Adapter, sql string) error {
	for _, stmt := range strings.Split(sql, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := ad.Execute(ctx, stmt, nil); err != nil {
			return err
		}
	}
	return nil
}

// describe classifies sql by prefix per spec.md §4.4; the core never
// parses SQL, so Cols/Params are always empty.
func describe(sql string) *DescribeResult {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	isExplain := strings.HasPrefix(upper, "EXPLAIN")
	isReadOnly := strings.HasPrefix(upper, "SELECT") || isExplain
	return &DescribeResult{
		Cols:       []string{},
		Params:     []string{},
		IsExplain:  isExplain,
		IsReadOnly: isReadOnly,
	}
}

// requestsOpenTransaction scans every inline SQL text reachable in
// requests for BEGIN/TRANSACTION, case-insensitively, per spec.md §4.4's
// baton-allocation rule. Statements referenced only by sql_id are not
// inspected, since their text isn't known until a session already exists.
func requestsOpenTransaction(requests []StreamRequest) bool {
	for _, req := range requests {
		if req.Stmt != nil && looksLikeTransaction(req.Stmt.SQL) {
			return true
		}
		if req.Batch != nil {
			for _, step := range req.Batch.Steps {
				if looksLikeTransaction(step.Stmt.SQL) {
					return true
				}
			}
		}
		if req.Type == "sequence" && looksLikeTransaction(req.SQL) {
			return true
		}
	}
	return false
}

func looksLikeTransaction(sql string) bool {
	upper := strings.ToUpper(sql)
	return strings.Contains(upper, "BEGIN") || strings.Contains(upper, "TRANSACTION")
}

// trackTransactionState updates the session's InTransaction flag from the
// executed SQL text, a best-effort bookkeeping of spec.md §3's Session
// data model (get_autocommit itself always answers true per spec.md §4.4).
func trackTransactionState(session *Session, sql string) {
	upper := strings.ToUpper(sql)
	switch {
	case strings.Contains(upper, "BEGIN"):
		session.SetInTransaction(true)
	case strings.Contains(upper, "COMMIT"), strings.Contains(upper, "ROLLBACK"):
		session.SetInTransaction(false)
	}
}
