package corefile

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// ELF header field sizes, mirroring elf.go's progHeaderSize/elfHeaderSize
// constants for the writer's own byte-level header construction.
const (
	ehdrSize32 = 52
	ehdrSize64 = 64
)

// Ehdr is the canonical in-memory ELF header. debug/elf's FileHeader omits
// e_flags, e_phoff, e_shoff, e_ehsize, e_phentsize, e_shentsize, e_shnum
// and e_shstrndx, all of which result() must preserve byte-for-byte, so
// this is decoded directly from the raw header bytes instead.
type Ehdr struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// Ehdr returns the parsed ELF header.
func (c *CoreFile) Ehdr() Ehdr { return c.ehdr }

func (c *CoreFile) decodeEhdr() (Ehdr, error) {
	size := ehdrSize64
	if c.class == elf.ELFCLASS32 {
		size = ehdrSize32
	}
	raw := make([]byte, size)
	if err := c.readFull(raw, 0); err != nil {
		return Ehdr{}, fmt.Errorf("reading ELF header: %w", err)
	}

	order := c.ef.ByteOrder
	var h Ehdr
	copy(h.Ident[:], raw[0:16])
	h.Type = order.Uint16(raw[16:18])
	h.Machine = order.Uint16(raw[18:20])
	h.Version = order.Uint32(raw[20:24])

	if c.class == elf.ELFCLASS32 {
		h.Entry = uint64(order.Uint32(raw[24:28]))
		h.Phoff = uint64(order.Uint32(raw[28:32]))
		h.Shoff = uint64(order.Uint32(raw[32:36]))
		h.Flags = order.Uint32(raw[36:40])
		h.Ehsize = order.Uint16(raw[40:42])
		h.Phentsize = order.Uint16(raw[42:44])
		h.Phnum = order.Uint16(raw[44:46])
		h.Shentsize = order.Uint16(raw[46:48])
		h.Shnum = order.Uint16(raw[48:50])
		h.Shstrndx = order.Uint16(raw[50:52])
		return h, nil
	}

	h.Entry = order.Uint64(raw[24:32])
	h.Phoff = order.Uint64(raw[32:40])
	h.Shoff = order.Uint64(raw[40:48])
	h.Flags = order.Uint32(raw[48:52])
	h.Ehsize = order.Uint16(raw[52:54])
	h.Phentsize = order.Uint16(raw[54:56])
	h.Phnum = order.Uint16(raw[56:58])
	h.Shentsize = order.Uint16(raw[58:60])
	h.Shnum = order.Uint16(raw[60:62])
	h.Shstrndx = order.Uint16(raw[62:64])
	return h, nil
}

// binaryOrder returns the core's byte order for this package's own
// hand-decoders (notes, auxv, dyn entries, raw phdrs); ByteOrder in order.go
// is the exported form for callers outside the package.
func (c *CoreFile) binaryOrder() binary.ByteOrder { return c.ef.ByteOrder }
