package reconstruct

import (
	"bytes"
	"encoding/binary"
)

func le16(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }
func le32(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }
func le64(v uint64) []byte { b := make([]byte, 8); binary.LittleEndian.PutUint64(b, v); return b }

const (
	ehdrSize = 64
	phdrSize = 56
)

func writeEhdr(b *bytes.Buffer, etype uint16, phoff uint64, phnum uint16) {
	b.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	b.Write(le16(etype))
	b.Write(le16(62)) // EM_X86_64
	b.Write(le32(1))
	b.Write(le64(0)) // e_entry
	b.Write(le64(phoff))
	b.Write(le64(0)) // e_shoff
	b.Write(le32(0)) // e_flags
	b.Write(le16(ehdrSize))
	b.Write(le16(phdrSize))
	b.Write(le16(phnum))
	b.Write(le16(0)) // e_shentsize
	b.Write(le16(0)) // e_shnum
	b.Write(le16(0)) // e_shstrndx
}

type phdrSpec struct {
	typ    uint32
	flags  uint32
	off    uint64
	vaddr  uint64
	filesz uint64
	memsz  uint64
	align  uint64
}

func writePhdr(b *bytes.Buffer, s phdrSpec) {
	b.Write(le32(s.typ))
	b.Write(le32(s.flags))
	b.Write(le64(s.off))
	b.Write(le64(s.vaddr))
	b.Write(le64(0)) // paddr
	b.Write(le64(s.filesz))
	b.Write(le64(s.memsz))
	b.Write(le64(s.align))
}

// writeExecPhdr writes one raw Elf64_Phdr entry as it would appear inside
// the traced executable's own in-memory program header table (unbiased
// vaddrs, no core-relative offset field meaning).
func writeExecPhdr(b *bytes.Buffer, typ uint32, vaddr, filesz uint64) {
	b.Write(le32(typ))
	b.Write(le32(6)) // flags RW
	b.Write(le64(0)) // offset, unused by the reconstruction
	b.Write(le64(vaddr))
	b.Write(le64(0)) // paddr
	b.Write(le64(filesz))
	b.Write(le64(filesz))
	b.Write(le64(8))
}

func appendNote(buf *bytes.Buffer, typ uint32, name string, desc []byte) {
	nameBytes := append([]byte(name), 0)
	buf.Write(le32(uint32(len(nameBytes))))
	buf.Write(le32(uint32(len(desc))))
	buf.Write(le32(typ))
	buf.Write(nameBytes)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	buf.Write(desc)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}

func writeDynEntry(b *bytes.Buffer, tag int64, val uint64) {
	b.Write(le64(uint64(tag)))
	b.Write(le64(val))
}

func writeRDebug(b *bytes.Buffer, mapVaddr uint64) {
	b.Write(le32(1)) // r_version
	b.Write(le32(0)) // padding
	b.Write(le64(mapVaddr))
	b.Write(le64(0)) // r_brk
	b.Write(le32(0)) // r_state
	b.Write(le32(0)) // padding
	b.Write(le64(0)) // r_ldbase
}

func writeLinkmap(b *bytes.Buffer, nameVaddr, nextVaddr uint64) {
	b.Write(le64(0))         // l_addr
	b.Write(le64(nameVaddr)) // l_name
	b.Write(le64(0))         // l_ld
	b.Write(le64(nextVaddr)) // l_next
	b.Write(le64(0))         // l_prev
}

func cstr(s string) []byte { return append([]byte(s), 0) }

// fakePIECore describes the parameters of a synthetic PIE (ET_DYN) core
// with DT_DEBUG populated and a 3-entry link_map chain (a plain library,
// libpthread, and libc), plus a single thread whose stack pointer lands
// in a separate PT_LOAD.
type fakePIECore struct {
	image []byte

	bias        uint64
	dynUnbiased uint64
	rdebugVaddr uint64
	stackRsp    uint64
	stackBase   uint64

	names []string // decoded names in link_map order, pre-rename
}

func buildFakePIECore() fakePIECore {
	const (
		bias         = uint64(0x555555550000)
		execPhdrOff  = uint64(0x40)
		dynUnbiased  = uint64(0x3e00)
		dynSize      = uint64(32) // two Elf64_Dyn entries
		rdebugOff    = uint64(0x4000)
		rdebugSz     = uint64(40)
		lm0Off       = uint64(0x5000)
		lm1Off       = uint64(0x5100)
		lm2Off       = uint64(0x5200)
		str0Off      = uint64(0x6000)
		str1Off      = uint64(0x6100)
		str2Off      = uint64(0x6200)
		loadSize     = uint64(0x10000)
		stackBase    = uint64(0x7ffff0000000)
		stackSize    = uint64(0x2000)
		stackRsp     = stackBase + 0x1000
	)

	// --- assemble PT_LOAD0's payload (the traced executable's own
	// address space, as the core dumped it) ---
	load0 := make([]byte, loadSize)

	var execPhdrs bytes.Buffer
	writeExecPhdr(&execPhdrs, 6 /* PT_PHDR */, execPhdrOff, phdrSize*2)
	writeExecPhdr(&execPhdrs, 2 /* PT_DYNAMIC */, dynUnbiased, dynSize)
	copy(load0[execPhdrOff:], execPhdrs.Bytes())

	var dyn bytes.Buffer
	writeDynEntry(&dyn, 21 /* DT_DEBUG */, bias+rdebugOff)
	writeDynEntry(&dyn, 0 /* DT_NULL */, 0)
	copy(load0[dynUnbiased:], dyn.Bytes())

	var rdebug bytes.Buffer
	writeRDebug(&rdebug, bias+lm0Off)
	copy(load0[rdebugOff:], rdebug.Bytes())

	var lm0, lm1, lm2 bytes.Buffer
	writeLinkmap(&lm0, bias+str0Off, bias+lm1Off)
	writeLinkmap(&lm1, bias+str1Off, bias+lm2Off)
	writeLinkmap(&lm2, bias+str2Off, 0)
	copy(load0[lm0Off:], lm0.Bytes())
	copy(load0[lm1Off:], lm1.Bytes())
	copy(load0[lm2Off:], lm2.Bytes())

	copy(load0[str0Off:], cstr("libexample.so"))
	copy(load0[str1Off:], cstr("/usr/lib/libpthread.so.0"))
	copy(load0[str2Off:], cstr("libc.so.6"))

	stack := make([]byte, stackSize)
	for i := range stack {
		stack[i] = byte(i)
	}

	// --- notes: AUXV + one PRSTATUS ---
	var notes bytes.Buffer
	var auxv bytes.Buffer
	auxv.Write(le64(3)) // AT_PHDR
	auxv.Write(le64(bias + execPhdrOff))
	auxv.Write(le64(5)) // AT_PHNUM
	auxv.Write(le64(2))
	auxv.Write(le64(4)) // AT_PHENT
	auxv.Write(le64(phdrSize))
	auxv.Write(le64(0)) // AT_NULL
	auxv.Write(le64(0))
	appendNote(&notes, 6 /* NT_AUXV */, "CORE", auxv.Bytes())

	prs := make([]byte, 336)
	binary.LittleEndian.PutUint64(prs[112+19*8:112+19*8+8], stackRsp)
	appendNote(&notes, 1 /* NT_PRSTATUS */, "CORE", prs)

	// --- lay out the whole core image ---
	notePhdrOff := uint64(ehdrSize)
	load0PhdrOff := notePhdrOff + phdrSize
	load1PhdrOff := load0PhdrOff + phdrSize
	noteDataOff := load1PhdrOff + phdrSize
	load0DataOff := noteDataOff + uint64(notes.Len())
	load1DataOff := load0DataOff + loadSize

	var b bytes.Buffer
	writeEhdr(&b, 3 /* ET_DYN */, ehdrSize, 3)
	writePhdr(&b, phdrSpec{typ: 4, flags: 4, off: noteDataOff, filesz: uint64(notes.Len()), memsz: uint64(notes.Len()), align: 4})
	writePhdr(&b, phdrSpec{typ: 1, flags: 7, off: load0DataOff, vaddr: bias, filesz: loadSize, memsz: loadSize, align: 0x1000})
	writePhdr(&b, phdrSpec{typ: 1, flags: 6, off: load1DataOff, vaddr: stackBase, filesz: stackSize, memsz: stackSize, align: 0x1000})
	b.Write(notes.Bytes())
	b.Write(load0)
	b.Write(stack)

	return fakePIECore{
		image:       b.Bytes(),
		bias:        bias,
		dynUnbiased: dynUnbiased,
		rdebugVaddr: bias + rdebugOff,
		stackRsp:    stackRsp,
		stackBase:   stackBase,
		names:       []string{"libexample.so", "/usr/lib/libpthread.so.0", "libc.so.6"},
	}
}
