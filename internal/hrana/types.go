package hrana

// NamedArg is one entry of a statement's named_args list. spec.md §4.4
// preserves the source's behavior of never substituting the name into the
// SQL text itself — values are submitted positionally in declared order,
// the same as plain args; the adapter decides how to bind them.
type NamedArg struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Stmt is one SQL statement to execute, either inline (SQL) or by
// reference to a previously stored statement (SqlID), per spec.md §4.4.
type Stmt struct {
	SQL       string     `json:"sql,omitempty"`
	SQLID     *int64     `json:"sql_id,omitempty"`
	Args      []Value    `json:"args,omitempty"`
	NamedArgs []NamedArg `json:"named_args,omitempty"`
	WantRows  *bool      `json:"want_rows,omitempty"`
}

func (s Stmt) wantsRows() bool {
	return s.WantRows == nil || *s.WantRows
}

// Condition is a batch step's prior-step predicate, per spec.md §4.4's
// condition table ({ok:N}, {error:N}, {not:C}, {and:[...]}, {or:[...]},
// {is_autocommit:b}). An absent or unrecognized condition always passes.
type Condition struct {
	Type         string      `json:"type"`
	Step         *int        `json:"step,omitempty"`
	Cond         *Condition  `json:"cond,omitempty"`
	Conds        []Condition `json:"conds,omitempty"`
	IsAutocommit *bool       `json:"is_autocommit,omitempty"`
}

// BatchStep is one statement in a batch, optionally gated by Condition.
type BatchStep struct {
	Condition *Condition `json:"condition,omitempty"`
	Stmt      Stmt       `json:"stmt"`
}

// Batch is the payload of a "batch" stream request.
type Batch struct {
	Steps []BatchStep `json:"steps"`
}

// StreamRequest is one pipelined request, discriminated by Type over
// {execute, batch, sequence, describe, store_sql, close_sql, close,
// get_autocommit}, per spec.md §4.4.
type StreamRequest struct {
	Type  string `json:"type"`
	Stmt  *Stmt  `json:"stmt,omitempty"`
	Batch *Batch `json:"batch,omitempty"`
	SQL   string `json:"sql,omitempty"`   // sequence
	SQLID *int64 `json:"sql_id,omitempty"` // store_sql / close_sql
}

// StmtResult is the outcome of one executed statement.
type StmtResult struct {
	Cols            []string  `json:"cols,omitempty"`
	Rows            [][]Value `json:"rows,omitempty"`
	RowsAffected    int64     `json:"affected_row_count"`
	LastInsertRowID *string   `json:"last_insert_rowid,omitempty"`
}

// BatchResult is the outcome of a "batch" stream request: per spec.md §8
// invariant 6, a skipped step is represented as nil in both arrays.
type BatchResult struct {
	StepResults []*StmtResult `json:"step_results"`
	StepErrors  []*Error      `json:"step_errors"`
}

// DescribeResult is the outcome of a "describe" stream request. The core
// does not parse SQL, so Cols/Params are always empty per spec.md §4.4.
type DescribeResult struct {
	Cols       []string `json:"cols"`
	Params     []string `json:"params"`
	IsExplain  bool     `json:"is_explain"`
	IsReadOnly bool     `json:"is_readonly"`
}

// StreamResult is the typed payload carried by a successful result
// envelope; exactly one field is populated, matching Type.
type StreamResult struct {
	Type         string          `json:"type"`
	Execute      *StmtResult     `json:"result,omitempty"`
	BatchResult  *BatchResult    `json:"result,omitempty"`
	Describe     *DescribeResult `json:"result,omitempty"`
	IsAutocommit *bool           `json:"is_autocommit,omitempty"`
}

// ResultEnvelope is one entry of the pipeline response's "results" array:
// either {"type":"ok","response":...} or {"type":"error","error":...}.
type ResultEnvelope struct {
	Type     string        `json:"type"`
	Response *StreamResult `json:"response,omitempty"`
	Error    *Error        `json:"error,omitempty"`
}

func okEnvelope(res StreamResult) ResultEnvelope {
	return ResultEnvelope{Type: "ok", Response: &res}
}

func errEnvelope(e Error) ResultEnvelope {
	return ResultEnvelope{Type: "error", Error: &e}
}

// PipelineRequest is the HTTP/WebSocket pipeline request body of spec.md §4.4.
type PipelineRequest struct {
	Baton    *string         `json:"baton"`
	Requests []StreamRequest `json:"requests"`
}

// PipelineResponse is the HTTP/WebSocket pipeline response body.
type PipelineResponse struct {
	BaseURL *string          `json:"base_url"`
	Baton   *string          `json:"baton"`
	Results []ResultEnvelope `json:"results"`
}
