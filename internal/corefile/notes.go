package corefile

import (
	"bytes"
	"debug/elf"
	"fmt"
)

// Linux auxv entry types. Not part of the ELF spec proper (debug/elf does
// not export them); these are the AT_* values the kernel populates in the
// NT_AUXV note.
const (
	AtNull  = 0
	AtPhdr  = 3
	AtPhent = 4
	AtPhnum = 5
)

// NtAuxv is Linux's note type for the auxiliary vector. debug/elf exports
// NT_PRSTATUS/NT_FPREGSET/NT_PRPSINFO but not this one.
const NtAuxv = 6

// align4 rounds n up to the next multiple of 4, the alignment ELF note
// entries are packed to regardless of ELF class.
func align4(n int) int { return (n + 3) &^ 3 }

// NoteData reads the raw bytes of a PT_NOTE segment.
func (c *CoreFile) NoteData(phdr *elf.ProgHeader) ([]byte, error) {
	buf := make([]byte, phdr.Filesz)
	if err := c.readFull(buf, int64(phdr.Off)); err != nil {
		return nil, fmt.Errorf("reading note segment: %w", err)
	}
	return buf, nil
}

// NoteHeader is one Elf_Nhdr: namesz, descsz and the note's type.
type NoteHeader struct {
	Namesz uint32
	Descsz uint32
	Type   uint32
}

// nextNote decodes one note entry starting at pos, returning the header,
// the note's name, the byte offset of its descriptor within data, and the
// position of the following note. It reports ok=false once pos reaches the
// end of well-formed note data.
func (c *CoreFile) nextNote(data []byte, pos int) (hdr NoteHeader, name string, descOff int, newPos int, ok bool, err error) {
	if pos+12 > len(data) {
		return NoteHeader{}, "", 0, pos, false, nil
	}
	order := c.binaryOrder()
	hdr = NoteHeader{
		Namesz: order.Uint32(data[pos : pos+4]),
		Descsz: order.Uint32(data[pos+4 : pos+8]),
		Type:   order.Uint32(data[pos+8 : pos+12]),
	}
	pos += 12

	nameEnd := pos + align4(int(hdr.Namesz))
	if nameEnd > len(data) {
		return NoteHeader{}, "", 0, pos, false, fmt.Errorf("note name overruns note data (namesz=%d)", hdr.Namesz)
	}
	if hdr.Namesz > 0 {
		name = string(bytes.TrimRight(data[pos:pos+int(hdr.Namesz)], "\x00"))
	}
	pos = nameEnd

	descOff = pos
	descEnd := pos + align4(int(hdr.Descsz))
	if descEnd > len(data) {
		return NoteHeader{}, "", 0, pos, false, fmt.Errorf("note descriptor overruns note data (descsz=%d)", hdr.Descsz)
	}
	pos = descEnd

	return hdr, name, descOff, pos, true, nil
}

// ForEachNote restartably iterates the notes packed into data, invoking
// visit with each note's header, name and descriptor bytes. visit returns
// stop=true to end iteration early.
func (c *CoreFile) ForEachNote(data []byte, visit func(hdr NoteHeader, name string, desc []byte) (stop bool, err error)) error {
	pos := 0
	for {
		hdr, name, descOff, newPos, ok, err := c.nextNote(data, pos)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		desc := data[descOff : descOff+int(hdr.Descsz)]
		stop, err := visit(hdr, name, desc)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
		pos = newPos
	}
}

// AuxvData scans noteBytes for the first NT_AUXV note and returns its
// descriptor, or ok=false if none is present.
func (c *CoreFile) AuxvData(noteBytes []byte) (auxv []byte, ok bool, err error) {
	err = c.ForEachNote(noteBytes, func(hdr NoteHeader, name string, desc []byte) (bool, error) {
		if hdr.Type == NtAuxv {
			auxv = desc
			ok = true
			return true, nil
		}
		return false, nil
	})
	return auxv, ok, err
}

// AuxvEntry is one (type, value) pair from the auxiliary vector, promoted
// to 64-bit regardless of the input's class.
type AuxvEntry struct {
	Type uint64
	Val  uint64
}

// auxvEntrySize returns the on-disk size of one Elf32_auxv_t or
// Elf64_auxv_t entry.
func (c *CoreFile) auxvEntrySize() int {
	if c.class == elf.ELFCLASS32 {
		return 8
	}
	return 16
}

// FindAuxv linearly scans an auxv descriptor for the first entry of the
// given type.
func (c *CoreFile) FindAuxv(auxvBytes []byte, typ uint64) (AuxvEntry, bool) {
	order := c.binaryOrder()
	step := c.auxvEntrySize()
	for off := 0; off+step <= len(auxvBytes); off += step {
		var e AuxvEntry
		if step == 8 {
			e.Type = uint64(order.Uint32(auxvBytes[off : off+4]))
			e.Val = uint64(order.Uint32(auxvBytes[off+4 : off+8]))
		} else {
			e.Type = order.Uint64(auxvBytes[off : off+8])
			e.Val = order.Uint64(auxvBytes[off+8 : off+16])
		}
		if e.Type == typ {
			return e, true
		}
		if e.Type == AtNull {
			break
		}
	}
	return AuxvEntry{}, false
}

// NextPRStatus advances through noteBytes from pos to the next NT_PRSTATUS
// note, copying prstatusSize bytes from its descriptor. It reports ok=false
// once no more notes remain.
func (c *CoreFile) NextPRStatus(noteBytes []byte, pos int, prstatusSize int) (newPos int, prstatus []byte, ok bool, err error) {
	for {
		hdr, _, descOff, next, cont, nerr := c.nextNote(noteBytes, pos)
		if nerr != nil {
			return pos, nil, false, nerr
		}
		if !cont {
			return pos, nil, false, nil
		}
		if hdr.Type == uint32(elf.NT_PRSTATUS) {
			if int(hdr.Descsz) < prstatusSize {
				return pos, nil, false, fmt.Errorf("NT_PRSTATUS descriptor too short: %d < %d", hdr.Descsz, prstatusSize)
			}
			prs := make([]byte, prstatusSize)
			copy(prs, noteBytes[descOff:descOff+prstatusSize])
			return next, prs, true, nil
		}
		pos = next
	}
}
