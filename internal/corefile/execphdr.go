package corefile

import (
	"debug/elf"
	"fmt"
)

// ExecPhdrData reads the executable's in-memory program header table from
// the core, located via AT_PHDR/AT_PHNUM/AT_PHENT in the auxiliary vector.
// These are the headers describing the traced process's own mappings, a
// distinct structure from the core file's own program header table that
// debug/elf already parsed at Open.
func (c *CoreFile) ExecPhdrData(auxv []byte) ([]byte, error) {
	phdrEnt, ok := c.FindAuxv(auxv, AtPhdr)
	if !ok {
		return nil, fmt.Errorf("auxv is missing AT_PHDR")
	}
	phnumEnt, ok := c.FindAuxv(auxv, AtPhnum)
	if !ok {
		return nil, fmt.Errorf("auxv is missing AT_PHNUM")
	}
	phentEnt, ok := c.FindAuxv(auxv, AtPhent)
	if !ok {
		return nil, fmt.Errorf("auxv is missing AT_PHENT")
	}

	size := phnumEnt.Val * phentEnt.Val
	off, ok := c.VaddrToOffset(phdrEnt.Val)
	if !ok {
		return nil, fmt.Errorf("AT_PHDR vaddr %#x is not present in the core", phdrEnt.Val)
	}

	buf := make([]byte, size)
	if err := c.readFull(buf, off); err != nil {
		return nil, fmt.Errorf("reading executable program headers: %w", err)
	}
	return buf, nil
}

// FindExecPhdr scans the executable's in-memory program header table
// (phdrBytes, phentsize bytes per entry) for the first entry of the given
// type, dispatching on the input's ELF class rather than the host's: the
// class byte lives at EI_CLASS (byte 4 of e_ident), read once at Open and
// cached in c.class, and the on-disk Elf32_Phdr and Elf64_Phdr layouts
// differ in both field width and field order (p_flags moves from the 7th
// 32-bit word to directly after p_type).
func (c *CoreFile) FindExecPhdr(phdrBytes []byte, phentsize uint64, typ elf.ProgType) (elf.ProgHeader, bool) {
	step := int(phentsize)
	if step <= 0 {
		return elf.ProgHeader{}, false
	}
	for off := 0; off+step <= len(phdrBytes); off += step {
		entry := phdrBytes[off : off+step]
		var h elf.ProgHeader
		if c.class == elf.ELFCLASS32 {
			h = c.decodePhdr32(entry)
		} else {
			h = c.decodePhdr64(entry)
		}
		if h.Type == typ {
			return h, true
		}
	}
	return elf.ProgHeader{}, false
}

func (c *CoreFile) decodePhdr32(raw []byte) elf.ProgHeader {
	order := c.binaryOrder()
	return elf.ProgHeader{
		Type:   elf.ProgType(order.Uint32(raw[0:4])),
		Off:    uint64(order.Uint32(raw[4:8])),
		Vaddr:  uint64(order.Uint32(raw[8:12])),
		Paddr:  uint64(order.Uint32(raw[12:16])),
		Filesz: uint64(order.Uint32(raw[16:20])),
		Memsz:  uint64(order.Uint32(raw[20:24])),
		Flags:  elf.ProgFlag(order.Uint32(raw[24:28])),
		Align:  uint64(order.Uint32(raw[28:32])),
	}
}

func (c *CoreFile) decodePhdr64(raw []byte) elf.ProgHeader {
	order := c.binaryOrder()
	return elf.ProgHeader{
		Type:   elf.ProgType(order.Uint32(raw[0:4])),
		Flags:  elf.ProgFlag(order.Uint32(raw[4:8])),
		Off:    order.Uint64(raw[8:16]),
		Vaddr:  order.Uint64(raw[16:24]),
		Paddr:  order.Uint64(raw[24:32]),
		Filesz: order.Uint64(raw[32:40]),
		Memsz:  order.Uint64(raw[40:48]),
		Align:  order.Uint64(raw[48:56]),
	}
}
