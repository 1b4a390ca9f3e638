// Package corefile provides random-access reading over an input Linux ELF
// core dump: virtual-address-to-file-offset resolution, and the class-aware
// (32/64-bit) primitives the reconstruction pipeline chases pointers with.
//
// debug/elf parses the core's own ELF header and program header table (its
// Prog.ProgHeader fields are already promoted to a common 64-bit shape
// regardless of input class) and is used directly for that. It does not
// expose raw e_flags/e_shoff/e_shstrndx, PT_NOTE note iteration, auxv
// entries, or the in-memory program header table of the *traced*
// executable (as opposed to the core file itself) — those are Linux/core
// specific and are hand-decoded here with encoding/binary.
package corefile

import (
	"debug/elf"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/OpenVZ/coripper/internal/coreerr"
)

// CoreFile is an opaque handle over the input core: a positional-read
// capable file descriptor, a parsed ELF image, and the cached ELF class.
type CoreFile struct {
	file  *os.File
	fd    int
	ef    *elf.File
	ehdr  Ehdr
	class elf.Class
}

// Open validates the ELF magic and parses the header and program header
// table. The returned CoreFile owns the file descriptor until Close.
func Open(path string) (*CoreFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, coreerr.IOErr("Unable to read elf header", err)
	}

	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, coreerr.NotELFErr("Unable to read elf header", err)
	}

	cf := &CoreFile{file: f, fd: int(f.Fd()), ef: ef, class: ef.Class}

	ehdr, err := cf.decodeEhdr()
	if err != nil {
		f.Close()
		return nil, coreerr.MalformedELFErr("Unable to read elf header", err)
	}
	cf.ehdr = ehdr

	return cf, nil
}

// Close releases the file descriptor. The parsed ELF image holds no
// resources of its own beyond it.
func (c *CoreFile) Close() error {
	return c.file.Close()
}

// pread is the sole raw syscall path into the core: a stateless positional
// read that never moves a shared file cursor.
func (c *CoreFile) pread(b []byte, off int64) (int, error) {
	return unix.Pread(c.fd, b, off)
}

func (c *CoreFile) readFull(b []byte, off int64) error {
	n, err := c.pread(b, off)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("short read at offset %#x: got %d of %d bytes", off, n, len(b))
	}
	return nil
}

// Class reports the input's ELF class (32 or 64-bit), cached at open time.
func (c *CoreFile) Class() elf.Class { return c.class }

// Machine reports the input's e_machine value.
func (c *CoreFile) Machine() elf.Machine { return c.ef.Machine }

// Type reports the input's e_type value (expected ET_CORE).
func (c *CoreFile) Type() elf.Type { return c.ef.Type }

// Progs returns the core's own program header table, already promoted to a
// common 64-bit shape by debug/elf regardless of the input's class.
func (c *CoreFile) Progs() []*elf.Prog { return c.ef.Progs }

// FindNotePhdr returns the first PT_NOTE program header, or nil.
func (c *CoreFile) FindNotePhdr() *elf.ProgHeader {
	for _, p := range c.ef.Progs {
		if p.Type == elf.PT_NOTE {
			h := p.ProgHeader
			return &h
		}
	}
	return nil
}

// FindPhdrContaining returns the first program header whose
// [p_vaddr, p_vaddr+p_filesz) range contains vaddr. Core dumps have
// overlapping regions only pathologically; first-match is the contract.
func (c *CoreFile) FindPhdrContaining(vaddr uint64) *elf.ProgHeader {
	for _, p := range c.ef.Progs {
		if vaddr >= p.Vaddr && vaddr < p.Vaddr+p.Filesz {
			h := p.ProgHeader
			return &h
		}
	}
	return nil
}

// VaddrToOffset resolves a virtual address to a file offset via the
// containing program header, or returns ok=false if the address was not
// dumped (e.g. it belonged to a file-backed mapping the kernel skipped).
func (c *CoreFile) VaddrToOffset(vaddr uint64) (offset int64, ok bool) {
	p := c.FindPhdrContaining(vaddr)
	if p == nil {
		return 0, false
	}
	return int64(p.Off + (vaddr - p.Vaddr)), true
}

// ReadAt reads len(b) bytes at the file offset vaddr resolves to. It
// reports ok=false, without error, when vaddr does not resolve.
func (c *CoreFile) ReadAt(vaddr uint64, b []byte) (ok bool, err error) {
	off, ok := c.VaddrToOffset(vaddr)
	if !ok {
		return false, nil
	}
	if err := c.readFull(b, off); err != nil {
		return true, err
	}
	return true, nil
}
