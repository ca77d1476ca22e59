package helpers

import "io"

// maxBodyBytes caps response bodies read from arbitrary web servers.
// Nothing the engine extracts needs more; anything larger is truncated
// rather than buffered whole.
const maxBodyBytes = 8 << 20

// ReadAllAndClose drains r up to the body cap and always closes it, so
// keep-alive connections return to the pool even on error paths.
func ReadAllAndClose(r io.ReadCloser) ([]byte, error) {
	defer func() { _ = r.Close() }()
	return io.ReadAll(io.LimitReader(r, maxBodyBytes))
}
