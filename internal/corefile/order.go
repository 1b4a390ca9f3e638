package corefile

import (
	"debug/elf"
	"encoding/binary"
)

// ByteOrder exposes the core's byte order so callers outside this package
// (the reconstruction pipeline's r_debug/link_map decoders) can hand-decode
// further structures at the same endianness this package uses internally.
func (c *CoreFile) ByteOrder() binary.ByteOrder { return c.binaryOrder() }

// Is64 reports whether the input is a 64-bit ELF.
func (c *CoreFile) Is64() bool { return c.class == elf.ELFCLASS64 }
