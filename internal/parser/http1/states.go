package http1

// state names a step of the incremental request-line-and-headers parser.
// Modeled on indigo-web-indigo/internal/parser/http1/states.go: named,
// resumable states rather than a single opaque "position" integer, so a
// Parse call can suspend after any byte and resume exactly where it left
// off on the next one.
type state uint8

const (
	sMethod state = iota + 1
	sPath
	sQuery
	sProto
	sProtoLF
	sHeaderKey
	sHeaderColon
	sHeaderValueLeading
	sHeaderValue
	sHeaderValueLF
	sHeadersEndLF
)
