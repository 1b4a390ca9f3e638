package corefile

import (
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/OpenVZ/coripper/internal/coreerr"
)

// regset extracts the stack pointer from an NT_PRSTATUS descriptor and
// reports that descriptor's expected size, dispatched on e_machine.
// Modeled on the Architecture interface this repository's reference
// codegen backend used to select per-CPU behavior by a string tag; here
// the tag is elf.Machine and the one behavior needed is register
// extraction rather than instruction emission.
type regset interface {
	stackPointer(prstatus []byte) (uint64, error)
	size() int
}

// x86_64PrstatusSize is sizeof(struct elf_prstatus) on Linux/x86_64: a
// 12-byte elf_siginfo, a 2-byte cursig, 2 bytes of alignment padding, two
// unsigned longs (sigpend/sighold), four pid_t fields, four timeval pairs,
// the 27-register elf_gregset_t, and a trailing fpvalid int — 336 bytes
// once the struct's own 8-byte alignment pads the end.
const x86_64PrstatusSize = 336

// x86_64RspOffset is the byte offset of rsp within elf_prstatus: pr_reg
// starts at offset 112, and rsp is the 20th of 27 consecutive unsigned
// longs in struct user_regs_struct (r15..gs, in that declaration order).
const x86_64RspOffset = 112 + 19*8

type x86_64Regset struct{}

func (x86_64Regset) size() int { return x86_64PrstatusSize }

func (x86_64Regset) stackPointer(prstatus []byte) (uint64, error) {
	if len(prstatus) < x86_64RspOffset+8 {
		return 0, fmt.Errorf("prstatus too short to contain rsp: %d bytes", len(prstatus))
	}
	return binary.LittleEndian.Uint64(prstatus[x86_64RspOffset : x86_64RspOffset+8]), nil
}

func newRegset(machine elf.Machine) (regset, error) {
	switch machine {
	case elf.EM_X86_64:
		return x86_64Regset{}, nil
	default:
		return nil, fmt.Errorf("unsupported architecture for register extraction: %s", machine)
	}
}

// PRStatusSize reports the expected NT_PRSTATUS descriptor size for the
// core's machine, or UnsupportedArch if the machine has no known layout.
func (c *CoreFile) PRStatusSize() (int, error) {
	rs, err := newRegset(c.Machine())
	if err != nil {
		return 0, coreerr.UnsupportedArchErr("Unable to read stacks", err)
	}
	return rs.size(), nil
}

// StackData extracts the stack-pointer register from prs, locates the
// containing PT_LOAD, page-aligns the pointer down to that segment's
// alignment, and returns the aligned vaddr plus the bytes from there to
// the end of the segment.
func (c *CoreFile) StackData(prs []byte) (vaddrAligned uint64, payload []byte, err error) {
	rs, err := newRegset(c.Machine())
	if err != nil {
		return 0, nil, coreerr.UnsupportedArchErr("Unable to read stacks", err)
	}

	rsp, err := rs.stackPointer(prs)
	if err != nil {
		return 0, nil, coreerr.UnsupportedArchErr("Unable to read stacks", err)
	}

	phdr := c.FindPhdrContaining(rsp)
	if phdr == nil {
		return 0, nil, fmt.Errorf("stack pointer %#x is not contained in any PT_LOAD", rsp)
	}

	align := phdr.Align
	if align == 0 {
		align = 1
	}
	vaddrAligned = (rsp / align) * align

	off, ok := c.VaddrToOffset(vaddrAligned)
	if !ok {
		return 0, nil, fmt.Errorf("aligned stack vaddr %#x is not present in the core", vaddrAligned)
	}
	end := phdr.Off + phdr.Filesz
	length := end - uint64(off)

	buf := make([]byte, length)
	if err := c.readFull(buf, off); err != nil {
		return 0, nil, fmt.Errorf("reading stack bytes: %w", err)
	}
	return vaddrAligned, buf, nil
}
