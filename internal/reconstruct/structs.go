package reconstruct

import (
	"fmt"

	"github.com/OpenVZ/coripper/internal/corefile"
)

// rdebugInfo is the subset of struct r_debug the pointer chase needs:
// r_map, the vaddr of the head of the link_map chain. The other fields,
// r_version included, are not decoded and stay only in the captured payload.
type rdebugInfo struct {
	mapVaddr uint64
}

// rdebugSize returns sizeof(struct r_debug): r_version (int) padded to
// pointer width, r_map, r_brk, r_state (int, padded) and r_ldbase — all
// pointer-width on LP64, so the 64-bit form pads both the int fields to 8
// bytes while the 32-bit form does not need to.
func rdebugSize(is64 bool) int {
	if is64 {
		return 40
	}
	return 20
}

func decodeRDebug(cf *corefile.CoreFile, buf []byte) rdebugInfo {
	order := cf.ByteOrder()
	if cf.Is64() {
		return rdebugInfo{mapVaddr: order.Uint64(buf[8:16])}
	}
	return rdebugInfo{mapVaddr: uint64(order.Uint32(buf[4:8]))}
}

// readRDebug reads and decodes the r_debug struct at vaddr, returning both
// the decoded fields and the raw payload bytes the RDebug segment carries.
func readRDebug(cf *corefile.CoreFile, vaddr uint64) (rdebugInfo, []byte, error) {
	size := rdebugSize(cf.Is64())
	buf := make([]byte, size)
	ok, err := cf.ReadStruct(vaddr, buf)
	if err != nil {
		return rdebugInfo{}, nil, fmt.Errorf("reading r_debug at %#x: %w", vaddr, err)
	}
	if !ok {
		return rdebugInfo{}, nil, fmt.Errorf("r_debug struct not present at %#x", vaddr)
	}
	return decodeRDebug(cf, buf), buf, nil
}

// linkmapInfo is the subset of struct link_map the chain walk needs:
// l_name (the vaddr of the SONAME/path string) and l_next (the next
// node, 0 at the end of the chain).
type linkmapInfo struct {
	nameVaddr uint64
	nextVaddr uint64
}

// linkmapSize returns the size of the ABI-stable prefix of struct
// link_map: l_addr, l_name, l_ld, l_next, l_prev — five pointer-width
// fields. The private fields glibc appends after l_prev are never read.
func linkmapSize(is64 bool) int {
	if is64 {
		return 5 * 8
	}
	return 5 * 4
}

func decodeLinkmap(cf *corefile.CoreFile, buf []byte) linkmapInfo {
	order := cf.ByteOrder()
	if cf.Is64() {
		return linkmapInfo{
			nameVaddr: order.Uint64(buf[8:16]),
			nextVaddr: order.Uint64(buf[24:32]),
		}
	}
	return linkmapInfo{
		nameVaddr: uint64(order.Uint32(buf[4:8])),
		nextVaddr: uint64(order.Uint32(buf[12:16])),
	}
}

// readLinkmap reads and decodes the link_map struct at vaddr.
func readLinkmap(cf *corefile.CoreFile, vaddr uint64) (linkmapInfo, []byte, error) {
	size := linkmapSize(cf.Is64())
	buf := make([]byte, size)
	ok, err := cf.ReadStruct(vaddr, buf)
	if err != nil {
		return linkmapInfo{}, nil, fmt.Errorf("reading link_map at %#x: %w", vaddr, err)
	}
	if !ok {
		return linkmapInfo{}, nil, fmt.Errorf("link_map struct not present at %#x", vaddr)
	}
	return decodeLinkmap(cf, buf), buf, nil
}
