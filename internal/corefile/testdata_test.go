package corefile

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// fakeCoreBuilder assembles a minimal little-endian x86_64 ET_CORE file
// byte-for-byte, the way the reference ELF writer this package's writer
// sibling is modeled on assembles headers field by field, rather than via
// encoding/binary.Write(struct) reflection.
type fakeCoreBuilder struct {
	buf bytes.Buffer
}

func u16(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }
func u32(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }
func u64(v uint64) []byte { b := make([]byte, 8); binary.LittleEndian.PutUint64(b, v); return b }

const (
	fakeEhdrSize = 64
	fakePhdrSize = 56
)

// buildFakeCore lays out: ehdr, PT_NOTE phdr, PT_LOAD phdr, note bytes
// (one NT_AUXV + one NT_PRSTATUS), then the load's payload bytes. It
// returns the whole image plus the vaddr the load segment starts at and
// the rsp value embedded in the prstatus note.
func buildFakeCore(t interface{ Fatalf(string, ...any) }) (image []byte, loadVaddr uint64, rsp uint64) {
	const (
		loadVaddrC = 0x555555000000
		loadSize   = 0x2000
		rspC       = loadVaddrC + 0x1000 // inside the load segment
	)

	notePhdrOff := uint64(fakeEhdrSize)
	loadPhdrOff := notePhdrOff + fakePhdrSize
	noteDataOff := loadPhdrOff + fakePhdrSize

	var note bytes.Buffer
	appendNote(&note, NtAuxv, "CORE", auxvDescForTest())
	prs := make([]byte, x86_64PrstatusSize)
	binary.LittleEndian.PutUint64(prs[x86_64RspOffset:x86_64RspOffset+8], rspC)
	appendNote(&note, uint32(elf.NT_PRSTATUS), "CORE", prs)

	noteDataLen := uint64(note.Len())
	loadDataOff := noteDataOff + noteDataLen

	var b bytes.Buffer
	// e_ident
	b.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	b.Write(u16(4))  // e_type = ET_CORE
	b.Write(u16(62)) // e_machine = EM_X86_64
	b.Write(u32(1))  // e_version
	b.Write(u64(0))  // e_entry
	b.Write(u64(fakeEhdrSize))                  // e_phoff
	b.Write(u64(0))                             // e_shoff
	b.Write(u32(0))                             // e_flags
	b.Write(u16(fakeEhdrSize))                  // e_ehsize
	b.Write(u16(fakePhdrSize))                  // e_phentsize
	b.Write(u16(2))                             // e_phnum
	b.Write(u16(0))                             // e_shentsize
	b.Write(u16(0))                             // e_shnum
	b.Write(u16(0))                             // e_shstrndx
	if b.Len() != fakeEhdrSize {
		t.Fatalf("ehdr builder produced %d bytes, want %d", b.Len(), fakeEhdrSize)
	}

	// PT_NOTE phdr
	b.Write(u32(4)) // PT_NOTE
	b.Write(u32(4)) // flags R
	b.Write(u64(noteDataOff))
	b.Write(u64(0)) // vaddr
	b.Write(u64(0)) // paddr
	b.Write(u64(noteDataLen))
	b.Write(u64(noteDataLen))
	b.Write(u64(4))

	// PT_LOAD phdr
	b.Write(u32(1)) // PT_LOAD
	b.Write(u32(7)) // flags RWX
	b.Write(u64(loadDataOff))
	b.Write(u64(loadVaddrC))
	b.Write(u64(0))
	b.Write(u64(loadSize))
	b.Write(u64(loadSize))
	b.Write(u64(0x1000))

	b.Write(note.Bytes())

	load := make([]byte, loadSize)
	for i := range load {
		load[i] = byte(i)
	}
	b.Write(load)

	return b.Bytes(), loadVaddrC, rspC
}

func appendNote(buf *bytes.Buffer, typ uint32, name string, desc []byte) {
	nameBytes := append([]byte(name), 0)
	buf.Write(u32(uint32(len(nameBytes))))
	buf.Write(u32(uint32(len(desc))))
	buf.Write(u32(typ))
	buf.Write(nameBytes)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	buf.Write(desc)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}

// auxvDescForTest returns a tiny Elf64_auxv_t array: AT_PHDR/AT_PHNUM/
// AT_PHENT followed by the AT_NULL terminator, enough for the notes- and
// auxv-level tests in this package (the reconstruct package's tests
// exercise the full PT_DYNAMIC chase with a richer fake core).
func auxvDescForTest() []byte {
	var b bytes.Buffer
	b.Write(u64(AtPhdr))
	b.Write(u64(0x400040))
	b.Write(u64(AtPhnum))
	b.Write(u64(4))
	b.Write(u64(AtPhent))
	b.Write(u64(56))
	b.Write(u64(AtNull))
	b.Write(u64(0))
	return b.Bytes()
}
