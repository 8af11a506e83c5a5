package status

// Error pairs a status code with a message, so a handler-reported error can
// be translated straight into an access-log status without a second lookup.
// Grounded on indigo-web-indigo/http/status's HTTPError.
type Error struct {
	Code    Code
	Message string
}

func NewError(code Code, message string) Error {
	return Error{Code: code, Message: message}
}

func (e Error) Error() string {
	return e.Message
}

var (
	ErrBadRequest          = NewError(BadRequest, "bad request")
	ErrNotFound            = NewError(NotFound, "not found")
	ErrRequestTimeout      = NewError(RequestTimeout, "request timeout")
	ErrBodyTooLarge        = NewError(RequestEntityTooLarge, "request body is too large")
	ErrInternalServerError = NewError(InternalServerError, "internal server error")
	ErrNotImplemented      = NewError(NotImplemented, "not implemented")
	ErrUnsupportedProtocol = NewError(HTTPVersionNotSupported, "http version not supported")

	// ErrCloseConnection signals the core to close the socket without
	// writing anything further — used by the read path when the peer
	// closes mid-request.
	ErrCloseConnection = NewError(StatusPeerAbort, "actively closing the connection")
)
