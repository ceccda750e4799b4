package dispatch

import (
	"sneldb/internal/query/flow"
	"sneldb/internal/schema"
)

// StatusCode mirrors the external protocol's numeric status (§7): 200 on
// success, 400/401/403/404/500/503 on the error classes common.StorageError
// already taxonomizes.
type StatusCode int

const (
	StatusOK                  StatusCode = 200
	StatusBadRequest          StatusCode = 400
	StatusUnauthorized        StatusCode = 401
	StatusForbidden           StatusCode = 403
	StatusNotFound            StatusCode = 404
	StatusInternalError       StatusCode = 500
	StatusServiceUnavailable  StatusCode = 503
)

// BodyKind discriminates ResponseBody's variant, grounded on the Rust
// reference's shared/response ResponseBody enum (Lines/ScalarArray/Table).
type BodyKind int

const (
	BodyLines BodyKind = iota
	BodyRows
	BodyStream
)

// ResponseBody carries a Response's payload. A finished, buffered result
// (DEFINE/FLUSH/administrative commands) uses Lines; a finished tabular
// result (small QUERY results, SHOW MATERIALIZED) uses Rows; a QUERY whose
// caller wants incremental delivery uses Stream, handing the renderer the
// live ColumnBatch channel instead of a materialized slice.
type ResponseBody struct {
	Kind BodyKind

	Lines []string

	Columns []flow.ColumnSpec
	Rows    [][]schema.ScalarValue

	Schema *flow.BatchSchema
	Stream <-chan *flow.ColumnBatch
	Flow   *flow.FlowContext // caller must Cancel once done draining Stream
}

// Response is what every dispatch handler returns: a status, a short
// human-readable message, and a body. Renderer turns this into whatever
// wire format the external frontend speaks; this package never encodes one
// itself (§1).
type Response struct {
	Status  StatusCode
	Message string
	Body    ResponseBody
	Count   int
}

// OKLines builds a 200 response carrying plain text lines, the shape
// DEFINE/FLUSH/CREATE USER/GRANT/REVOKE/PING return.
func OKLines(message string, lines ...string) *Response {
	return &Response{Status: StatusOK, Message: message, Body: ResponseBody{Kind: BodyLines, Lines: lines}, Count: len(lines)}
}

// OKRows builds a 200 response carrying a materialized table.
func OKRows(message string, columns []flow.ColumnSpec, rows [][]schema.ScalarValue) *Response {
	return &Response{
		Status:  StatusOK,
		Message: message,
		Body:    ResponseBody{Kind: BodyRows, Columns: columns, Rows: rows},
		Count:   len(rows),
	}
}

// OKStream builds a 200 response carrying a live batch stream. fc must be
// cancelled by the renderer once it stops draining ch, per FlowContext's
// cancellation contract.
func OKStream(message string, outSchema *flow.BatchSchema, fc *flow.FlowContext, ch <-chan *flow.ColumnBatch) *Response {
	return &Response{
		Status:  StatusOK,
		Message: message,
		Body:    ResponseBody{Kind: BodyStream, Schema: outSchema, Stream: ch, Flow: fc},
	}
}

// ErrorResponse builds an error response at status carrying message, no
// body.
func ErrorResponse(status StatusCode, message string) *Response {
	return &Response{Status: status, Message: message, Body: ResponseBody{Kind: BodyLines}}
}

// Renderer is the out-of-core contract (§1) a Response crosses into: JSON
// lines, Arrow IPC, or any other wire encoding is the external frontend's
// job, not this package's. Dispatch handlers only ever build a Response;
// whoever called Dispatch hands it to a Renderer.
type Renderer interface {
	Render(resp *Response) error
}
