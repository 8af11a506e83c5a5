package message

// Proto is an HTTP protocol version, restricted to what this core
// understands: HTTP/1.0 and HTTP/1.1. HTTP/2 and HTTP/3 are explicitly out
// of scope for this connection core.
type Proto struct {
	Major, Minor int
}

func (p Proto) String() string {
	switch {
	case p.Major == 1 && p.Minor == 1:
		return "HTTP/1.1"
	case p.Major == 1 && p.Minor == 0:
		return "HTTP/1.0"
	default:
		return "HTTP/1.1"
	}
}

// IsKeepAliveDefault reports whether this protocol version defaults to
// keep-alive in the absence of an explicit Connection header.
func (p Proto) IsKeepAliveDefault() bool {
	return p.Major == 1 && p.Minor == 1
}

var (
	HTTP10 = Proto{Major: 1, Minor: 0}
	HTTP11 = Proto{Major: 1, Minor: 1}
)
