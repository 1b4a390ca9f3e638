package corefile

import (
	"debug/elf"
	"fmt"
)

// DynEntry is one Elf32_Dyn/Elf64_Dyn pair, promoted to 64-bit.
type DynEntry struct {
	Tag elf.DynTag
	Val uint64
}

func (c *CoreFile) dynEntrySize() int {
	if c.class == elf.ELFCLASS32 {
		return 8
	}
	return 16
}

// DynData reads the dynamic array bytes from the core at vaddr (the
// executable's PT_DYNAMIC vaddr, already PIE-bias-compensated by the
// caller), for size bytes.
func (c *CoreFile) DynData(vaddr uint64, size uint64) ([]byte, error) {
	off, ok := c.VaddrToOffset(vaddr)
	if !ok {
		return nil, fmt.Errorf("dynamic section vaddr %#x is not present in the core", vaddr)
	}
	buf := make([]byte, size)
	if err := c.readFull(buf, off); err != nil {
		return nil, fmt.Errorf("reading dynamic section: %w", err)
	}
	return buf, nil
}

// FindDyn linearly scans a dynamic array for the first entry with the
// given tag.
func (c *CoreFile) FindDyn(data []byte, tag elf.DynTag) (DynEntry, bool) {
	order := c.binaryOrder()
	step := c.dynEntrySize()
	for off := 0; off+step <= len(data); off += step {
		var e DynEntry
		if step == 8 {
			e.Tag = elf.DynTag(int32(order.Uint32(data[off : off+4])))
			e.Val = uint64(order.Uint32(data[off+4 : off+8]))
		} else {
			e.Tag = elf.DynTag(int64(order.Uint64(data[off : off+8])))
			e.Val = order.Uint64(data[off+8 : off+16])
		}
		if e.Tag == tag {
			return e, true
		}
		if e.Tag == elf.DT_NULL {
			break
		}
	}
	return DynEntry{}, false
}
