package conn

// stateFlags is the connection's state, a disjunction of independent flags
// rather than a single enum — spec.md §9's design note is explicit that
// "drain body after handler closed" and "waiting for first byte of a fresh
// request" are orthogonal and must not be collapsed.
type stateFlags uint8

const (
	// readHeaders: currently feeding bytes to the header parser.
	readHeaders stateFlags = 1 << iota
	// readData: headers complete, now streaming body to the handler.
	readData
	// waitingForFirstData: sub-flag of readHeaders, cleared on the first
	// byte of a new request. While set, reads use the idle timeout and a
	// peer EOF closes the connection without an access-log line; the
	// request's access-log timing starts with that first byte.
	waitingForFirstData
	// requestProcessed: the handler signaled close while body bytes were
	// still outstanding; the connection must finish draining before reuse.
	requestProcessed
)

// initialState is the state a fresh or freshly-reused connection starts in.
func initialState() stateFlags {
	return readHeaders | waitingForFirstData
}

// processingRequest is true exactly when neither readHeaders nor readData
// holds — spec.md defines PROCESSING_REQUEST as that derived condition, not
// as a fifth independent bit.
func (s stateFlags) processingRequest() bool {
	return s&(readHeaders|readData) == 0
}

func (s stateFlags) has(flag stateFlags) bool {
	return s&flag != 0
}

func (s *stateFlags) set(flag stateFlags) {
	*s |= flag
}

func (s *stateFlags) clear(flag stateFlags) {
	*s &^= flag
}
