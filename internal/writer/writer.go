// Package writer streams the reconstructed ELF header, program header
// table and segment payloads to an output sink in two forward-only
// passes: the reconstruction never holds the whole output in memory, and
// the stream is never seeked.
package writer

import (
	"encoding/binary"
	"fmt"
	"io"

	"debug/elf"

	"github.com/OpenVZ/coripper/internal/coreerr"
	"github.com/OpenVZ/coripper/internal/corefile"
	"github.com/OpenVZ/coripper/internal/segment"
)

// headerBuilder accumulates one header's bytes field by field, mirroring
// the byte-at-a-time ELF construction this repository's reference ELF
// writer uses (Write/Write2/Write4/Write8u) rather than
// encoding/binary.Write on a struct.
type headerBuilder struct {
	buf []byte
}

func (h *headerBuilder) u8(v uint8)   { h.buf = append(h.buf, v) }
func (h *headerBuilder) u16(v uint16) { h.buf = binary.LittleEndian.AppendUint16(h.buf, v) }
func (h *headerBuilder) u32(v uint32) { h.buf = binary.LittleEndian.AppendUint32(h.buf, v) }
func (h *headerBuilder) u64(v uint64) { h.buf = binary.LittleEndian.AppendUint64(h.buf, v) }
func (h *headerBuilder) bytes(b []byte) { h.buf = append(h.buf, b...) }

// Write performs the two-pass emission: the ELF header (with e_phnum set to
// len(segs) and e_phoff to the header size), then the program header table
// with each entry's p_offset overwritten to the running file position, then
// (in a disjoint second pass) every segment's payload.
func Write(w io.Writer, ehdr corefile.Ehdr, segs []segment.Segment) error {
	is64 := ehdr.Ident[elf.EI_CLASS] == byte(elf.ELFCLASS64)

	ehdr.Phnum = uint16(len(segs))
	if is64 {
		ehdr.Phoff = 64
	} else {
		ehdr.Phoff = 52
	}

	ehdrBytes := buildEhdrBytes(ehdr, is64)
	if err := writeAll(w, ehdrBytes); err != nil {
		return coreerr.OutputClosedErr("Unable to write elf header", err)
	}

	phentsize := uint64(ehdr.Phentsize)
	running := uint64(len(ehdrBytes)) + uint64(len(segs))*phentsize

	offsets := make([]uint64, len(segs))
	for i, s := range segs {
		offsets[i] = running
		running += s.Header.Filesz
	}

	for i, s := range segs {
		hdrBytes := buildPhdrBytes(s.Header, offsets[i], is64)
		if uint64(len(hdrBytes)) != phentsize {
			return coreerr.OutputClosedErr("Unable to write elf header",
				fmt.Errorf("program header %d encoded to %d bytes, want %d", i, len(hdrBytes), phentsize))
		}
		if err := writeAll(w, hdrBytes); err != nil {
			return coreerr.OutputClosedErr("Unable to write elf header", err)
		}
	}

	for i, s := range segs {
		if err := writeAll(w, s.Payload); err != nil {
			return coreerr.OutputClosedErr(fmt.Sprintf("Unable to write segment %d payload", i), err)
		}
	}

	return nil
}

func writeAll(w io.Writer, b []byte) error {
	n, err := w.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("short write: wrote %d of %d bytes", n, len(b))
	}
	return nil
}

func buildEhdrBytes(h corefile.Ehdr, is64 bool) []byte {
	var b headerBuilder
	b.bytes(h.Ident[:])
	b.u16(h.Type)
	b.u16(h.Machine)
	b.u32(h.Version)

	if is64 {
		b.u64(h.Entry)
		b.u64(h.Phoff)
		b.u64(h.Shoff)
	} else {
		b.u32(uint32(h.Entry))
		b.u32(uint32(h.Phoff))
		b.u32(uint32(h.Shoff))
	}

	b.u32(h.Flags)
	b.u16(h.Ehsize)
	b.u16(h.Phentsize)
	b.u16(h.Phnum)
	b.u16(h.Shentsize)
	b.u16(h.Shnum)
	b.u16(h.Shstrndx)
	return b.buf
}

func buildPhdrBytes(h elf.ProgHeader, offset uint64, is64 bool) []byte {
	var b headerBuilder
	if is64 {
		b.u32(uint32(h.Type))
		b.u32(uint32(h.Flags))
		b.u64(offset)
		b.u64(h.Vaddr)
		b.u64(h.Paddr)
		b.u64(h.Filesz)
		b.u64(h.Memsz)
		b.u64(h.Align)
		return b.buf
	}

	b.u32(uint32(h.Type))
	b.u32(uint32(offset))
	b.u32(uint32(h.Vaddr))
	b.u32(uint32(h.Paddr))
	b.u32(uint32(h.Filesz))
	b.u32(uint32(h.Memsz))
	b.u32(uint32(h.Flags))
	b.u32(uint32(h.Align))
	return b.buf
}
