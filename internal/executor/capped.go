package executor

import "bytes"

// CappedBuffer keeps the first Limit bytes written to it and silently drops
// the rest. Writes never fail, so it can sit behind io.Copy or stdcopy
// without turning a runaway process into a short-write error.
type CappedBuffer struct {
	Limit int64
	buf   bytes.Buffer
}

func (c *CappedBuffer) Write(p []byte) (int, error) {
	room := c.Limit - int64(c.buf.Len())
	if room > 0 {
		if int64(len(p)) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

// Bytes returns the captured prefix.
func (c *CappedBuffer) Bytes() []byte {
	return c.buf.Bytes()
}
