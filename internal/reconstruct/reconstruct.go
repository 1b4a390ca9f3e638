// Package reconstruct implements the pointer-chase pipeline: starting
// from the input core's NOTE segment, it walks auxv, the executable's
// in-memory program headers, PT_DYNAMIC, DT_DEBUG, the r_debug/link_map
// chain and the per-thread stacks, assembling the synthetic PT_LOAD
// segments an out-of-band debugger needs to reconstruct the loaded
// shared-object list.
package reconstruct

import (
	"debug/elf"
	"fmt"

	"github.com/OpenVZ/coripper/internal/coreerr"
	"github.com/OpenVZ/coripper/internal/corefile"
	"github.com/OpenVZ/coripper/internal/segment"
)

// Reconstructor orchestrates one reconstruction. It is single-use: create
// one per input core, run the stages (directly or via Run), then take
// Result.
type Reconstructor struct {
	cf *corefile.CoreFile

	noteRead bool
	notePhdr elf.ProgHeader
	noteData []byte

	dynamicRead  bool
	dynamicVaddr uint64
	dynamicData  []byte

	rdebugRead bool
	mapVaddr   uint64

	segments []segment.Segment
}

// New creates a Reconstructor over an already-opened core file.
func New(cf *corefile.CoreFile) *Reconstructor {
	return &Reconstructor{cf: cf}
}

// ReadNote finds the input's PT_NOTE, reads its bytes, and appends a Note
// segment. Idempotent: a second call is a no-op.
func (r *Reconstructor) ReadNote() error {
	if r.noteRead {
		return nil
	}
	const stage = "Unable to read core notes"

	phdr := r.cf.FindNotePhdr()
	if phdr == nil {
		return coreerr.MalformedELFErr(stage, fmt.Errorf("input has no PT_NOTE segment"))
	}
	data, err := r.cf.NoteData(phdr)
	if err != nil {
		return coreerr.IOErr(stage, err)
	}

	r.notePhdr = *phdr
	r.noteData = data
	r.segments = append(r.segments, segment.NewNote(*phdr, data))
	r.noteRead = true
	return nil
}

// ReadDynamic requires Note. It resolves the executable's in-memory
// program headers via auxv, locates PT_DYNAMIC, applies PIE load-bias
// compensation when the executable is ET_DYN, and appends a Dynamic
// segment.
func (r *Reconstructor) ReadDynamic() error {
	if r.dynamicRead {
		return nil
	}
	const stage = "Unable to read dynamic section"

	if err := r.ReadNote(); err != nil {
		return err
	}

	auxv, ok, err := r.cf.AuxvData(r.noteData)
	if err != nil {
		return coreerr.MalformedELFErr(stage, err)
	}
	if !ok {
		return coreerr.MalformedELFErr(stage, fmt.Errorf("no NT_AUXV note present"))
	}

	phentEnt, ok := r.cf.FindAuxv(auxv, corefile.AtPhent)
	if !ok {
		return coreerr.MalformedELFErr(stage, fmt.Errorf("auxv is missing AT_PHENT"))
	}

	execPhdrs, err := r.cf.ExecPhdrData(auxv)
	if err != nil {
		return coreerr.MalformedELFErr(stage, err)
	}

	dynPhdr, ok := r.cf.FindExecPhdr(execPhdrs, phentEnt.Val, elf.PT_DYNAMIC)
	if !ok {
		return coreerr.MalformedELFErr(stage, fmt.Errorf("executable has no PT_DYNAMIC entry"))
	}

	dynVaddr := dynPhdr.Vaddr
	if r.cf.Type() == elf.ET_DYN {
		phdrPhdr, ok := r.cf.FindExecPhdr(execPhdrs, phentEnt.Val, elf.PT_PHDR)
		if !ok {
			return coreerr.MalformedELFErr(stage, fmt.Errorf("executable has no PT_PHDR entry"))
		}
		auxvPhdr, okAuxv := r.cf.FindAuxv(auxv, corefile.AtPhdr)
		if !okAuxv {
			return coreerr.MalformedELFErr(stage, fmt.Errorf("auxv is missing AT_PHDR"))
		}
		if phdrPhdr.Vaddr != auxvPhdr.Val {
			biasPhdr := r.cf.FindPhdrContaining(auxvPhdr.Val)
			if biasPhdr == nil {
				return coreerr.MalformedELFErr(stage, fmt.Errorf("AT_PHDR vaddr %#x not present in any core PT_LOAD", auxvPhdr.Val))
			}
			dynVaddr = dynPhdr.Vaddr + biasPhdr.Vaddr
		}
	}

	dynData, err := r.cf.DynData(dynVaddr, dynPhdr.Filesz)
	if err != nil {
		return coreerr.MalformedELFErr(stage, err)
	}

	r.dynamicVaddr = dynVaddr
	r.dynamicData = dynData
	r.segments = append(r.segments, segment.NewDynamic(dynVaddr, dynData))
	r.dynamicRead = true
	return nil
}

// ReadRDebug requires Dynamic. It scans for DT_DEBUG, reads the r_debug
// struct at its d_ptr, and appends an RDebug segment.
func (r *Reconstructor) ReadRDebug() error {
	if r.rdebugRead {
		return nil
	}
	const stage = "Unable to read rdebug structure"

	if err := r.ReadDynamic(); err != nil {
		return err
	}

	debugEnt, ok := r.cf.FindDyn(r.dynamicData, elf.DT_DEBUG)
	if !ok {
		return coreerr.MalformedELFErr(stage, fmt.Errorf("dynamic section has no DT_DEBUG entry"))
	}

	info, raw, err := readRDebug(r.cf, debugEnt.Val)
	if err != nil {
		return coreerr.MalformedELFErr(stage, err)
	}

	r.mapVaddr = info.mapVaddr
	r.segments = append(r.segments, segment.NewRDebug(debugEnt.Val, raw))
	r.rdebugRead = true
	return nil
}

// ReadLinkmaps requires RDebug. It walks the link_map chain from
// r_debug.r_map, reading each node's struct and NUL-terminated name
// (applying the libpthread rename), and splices the Linkmap/String pairs
// onto the segment list only once the full walk has succeeded — a
// mid-walk failure leaves no partial entries.
func (r *Reconstructor) ReadLinkmaps() error {
	const stage = "Unable to read linkmap"

	if err := r.ReadRDebug(); err != nil {
		return err
	}

	var pending []segment.Segment
	vaddr := r.mapVaddr
	for vaddr != 0 {
		info, raw, err := readLinkmap(r.cf, vaddr)
		if err != nil {
			return coreerr.MalformedELFErr(stage, err)
		}
		pending = append(pending, segment.NewLinkmap(vaddr, raw))

		name, err := r.cf.ReadCString(info.nameVaddr)
		if err != nil {
			return coreerr.MalformedELFErr(stage, err)
		}
		name = applyLibpthreadRename(name)
		pending = append(pending, segment.NewString(info.nameVaddr, name))

		vaddr = info.nextVaddr
	}

	r.segments = append(r.segments, pending...)
	return nil
}

// ReadStacks requires Note. It iterates PRSTATUS notes and appends a
// Stack segment for each thread; a single stack extraction failure aborts
// the whole reconstruction.
func (r *Reconstructor) ReadStacks() error {
	const stage = "Unable to read stacks"

	if err := r.ReadNote(); err != nil {
		return err
	}

	prsSize, err := r.cf.PRStatusSize()
	if err != nil {
		return err
	}

	var stacks []segment.Segment
	pos := 0
	for {
		newPos, prs, ok, err := r.cf.NextPRStatus(r.noteData, pos, prsSize)
		if err != nil {
			return coreerr.MalformedELFErr(stage, err)
		}
		if !ok {
			break
		}
		vaddr, payload, err := r.cf.StackData(prs)
		if err != nil {
			return coreerr.MalformedELFErr(stage, err)
		}
		stacks = append(stacks, segment.NewStack(vaddr, payload))
		pos = newPos
	}

	r.segments = append(r.segments, stacks...)
	return nil
}

// Run executes the full canonical pipeline: Note, Dynamic, RDebug,
// Linkmaps, Stacks — in that order, per the chosen canonical ordering.
func (r *Reconstructor) Run() error {
	if err := r.ReadNote(); err != nil {
		return err
	}
	if err := r.ReadDynamic(); err != nil {
		return err
	}
	if err := r.ReadRDebug(); err != nil {
		return err
	}
	if err := r.ReadLinkmaps(); err != nil {
		return err
	}
	if err := r.ReadStacks(); err != nil {
		return err
	}
	return nil
}

// Result produces the output ELF header and the final segment list. The
// header is derived from the input's identifying fields with e_phnum set
// to the segment count and e_phoff set to the ELF header size; e_shoff is
// left at the input's value since section headers are never rewritten.
func (r *Reconstructor) Result() (corefile.Ehdr, []segment.Segment, error) {
	in := r.cf.Ehdr()

	ehdrSize := uint64(64)
	if !r.cf.Is64() {
		ehdrSize = 52
	}

	out := corefile.Ehdr{
		Ident:     in.Ident,
		Type:      in.Type,
		Machine:   in.Machine,
		Version:   in.Version,
		Entry:     in.Entry,
		Flags:     in.Flags,
		Ehsize:    in.Ehsize,
		Phentsize: in.Phentsize,
		Phnum:     uint16(len(r.segments)),
		Phoff:     ehdrSize,
		Shentsize: in.Shentsize,
		Shnum:     in.Shnum,
		Shoff:     in.Shoff,
		Shstrndx:  in.Shstrndx,
	}
	return out, r.segments, nil
}
