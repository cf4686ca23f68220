package relay

import "fmt"

// ScanError is an infected verdict. It is not a machine fault: the daemon
// dialogue completed and classified the stream as infected. Response holds
// the daemon's raw diagnostic text verbatim.
type ScanError struct {
	Response string
}

func (e *ScanError) Error() string { return e.Response }

// ResponseError reports a daemon response that could not be decoded as
// UTF-8 text, distinct from a verdict so callers can tell "could not
// determine a verdict" from "verdict: infected".
type ResponseError struct {
	raw []byte
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("clamd response is not valid UTF-8 (%d bytes)", len(e.raw))
}

// Raw returns the undecodable response bytes.
func (e *ResponseError) Raw() []byte { return e.raw }
