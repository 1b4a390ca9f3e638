package corefile

import "bytes"

// maxCStringBuf is the upfront read size for ReadCString, matching the
// 4096-byte allocate-then-shrink strategy of the string reader this one is
// modeled on, rather than an incremental byte-by-byte reader.
const maxCStringBuf = 4096

// minUsefulCStringBuf documents the smallest buffer a caller should expect
// meaningful string data in; ReadCString always allocates the full
// maxCStringBuf regardless.
const minUsefulCStringBuf = 16

// ReadCString reads up to 4096 bytes at vaddr and truncates at the first
// NUL byte (inclusive). If vaddr does not resolve to a dumped region (a
// kernel-reserved name such as the vdso's, for instance), it returns a
// single-byte buffer holding just the terminator rather than failing.
func (c *CoreFile) ReadCString(vaddr uint64) ([]byte, error) {
	off, ok := c.VaddrToOffset(vaddr)
	if !ok {
		return []byte{0}, nil
	}

	buf := make([]byte, maxCStringBuf)
	n, err := c.pread(buf, off)
	if err != nil {
		return nil, err
	}
	buf = buf[:n]

	if idx := bytes.IndexByte(buf, 0); idx >= 0 {
		return buf[:idx+1], nil
	}
	return buf, nil
}

// ReadStruct reads len(buf) bytes at vaddr into buf. ok is false, with no
// error, both when vaddr does not resolve and when the read came up short
// of len(buf) — both are "no data here", not I/O failures.
func (c *CoreFile) ReadStruct(vaddr uint64, buf []byte) (ok bool, err error) {
	off, resolved := c.VaddrToOffset(vaddr)
	if !resolved {
		return false, nil
	}
	n, err := c.pread(buf, off)
	if err != nil {
		return false, err
	}
	if n != len(buf) {
		return false, nil
	}
	return true, nil
}
