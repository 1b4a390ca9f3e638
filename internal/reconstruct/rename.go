package reconstruct

import "strings"

// libpthreadMarker is the substring that triggers the rename. Its
// intent is unrecorded; implementers preserve the byte mutation exactly
// without generalizing it to other names.
const libpthreadMarker = "/libpthread.so"

// applyLibpthreadRename mutates the fourth character of the basename
// (zero-indexed byte 3, counting from the character after the final '/')
// to 'a' whenever raw contains libpthreadMarker — turning, for instance,
// "libpthread.so.0" into "libathread.so.0". raw is expected to include its
// trailing NUL terminator; it is returned unmodified if the marker is
// absent, and also returned unmodified (rather than risking a
// short-basename overrun) when the basename has fewer than 4 characters
// before its terminator.
func applyLibpthreadRename(raw []byte) []byte {
	s := string(raw)
	if !strings.Contains(s, libpthreadMarker) {
		return raw
	}

	lastSlash := strings.LastIndexByte(s, '/')
	if lastSlash < 0 {
		return raw
	}

	end := len(raw)
	if nul := strings.IndexByte(s, 0); nul >= 0 {
		end = nul
	}
	targetIdx := lastSlash + 1 + 3
	if targetIdx >= end {
		return raw
	}

	out := make([]byte, len(raw))
	copy(out, raw)
	out[targetIdx] = 'a'
	return out
}
