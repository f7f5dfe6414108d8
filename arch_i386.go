package elink

import "encoding/binary"

// i386Backend implements Backend for EM_386, grounded on the original's
// arch_i386.cc: same five-way classification as x86-64 minus the 64-bit
// relocation types and GOTPCRELX-style relaxation (i386's `call
// __x86.get_pc_thunk.*` idiom for PC-relative addressing isn't modeled as
// a relaxable site here, matching the original's narrower i386 backend).
type i386Backend struct{}

func init() { RegisterBackend(i386Backend{}) }

func (i386Backend) Arch() Arch { return ArchI386 }

func classifyI386(relType uint32) RelocClass {
	switch relType {
	case R_386_NONE:
		return RelNone
	case R_386_32, R_386_16, R_386_8:
		return RelAbsolute
	case R_386_PC32, R_386_PC16, R_386_PC8:
		return RelPCRelative
	case R_386_GOT32, R_386_GOTOFF, R_386_GOTPC:
		return RelGOTIndirect
	case R_386_PLT32:
		return RelPLTCall
	case R_386_TLS_GD:
		return RelTLSGD
	case R_386_TLS_LDM:
		return RelTLSLD
	case R_386_TLS_IE, R_386_TLS_GOTIE:
		return RelTLSIE
	case R_386_TLS_LE, R_386_TLS_TPOFF:
		return RelTLSLE
	default:
		return RelAbsolute
	}
}

var i386Policy = map[RelocClass]PolicyTable{
	RelAbsolute: {
		ModeExec: [4]RelocAction{ActionNone, ActionNone, ActionCopyrel, ActionCopyrel},
		ModePIE:  [4]RelocAction{ActionNone, ActionNone, ActionError, ActionError},
		ModeDSO:  [4]RelocAction{ActionBaserel, ActionBaserel, ActionDynrel, ActionDynrel},
	},
	RelPCRelative: {
		ModeExec: [4]RelocAction{ActionNone, ActionNone, ActionCopyrel, ActionPLT},
		ModePIE:  [4]RelocAction{ActionNone, ActionNone, ActionError, ActionPLT},
		ModeDSO:  [4]RelocAction{ActionNone, ActionNone, ActionError, ActionPLT},
	},
	RelGOTIndirect: {
		ModeExec: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone},
		ModePIE:  [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone},
		ModeDSO:  [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone},
	},
	RelPLTCall: {
		ModeExec: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionPLT},
		ModePIE:  [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionPLT},
		ModeDSO:  [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionPLT},
	},
	RelTLSGD: {ModeExec: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone}, ModePIE: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone}, ModeDSO: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone}},
	RelTLSLD: {ModeExec: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone}, ModePIE: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone}, ModeDSO: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone}},
	RelTLSIE: {ModeExec: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone}, ModePIE: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone}, ModeDSO: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone}},
	RelTLSLE: {ModeExec: [4]RelocAction{ActionNone, ActionNone, ActionError, ActionError}, ModePIE: [4]RelocAction{ActionNone, ActionNone, ActionError, ActionError}, ModeDSO: [4]RelocAction{ActionError, ActionError, ActionError, ActionError}},
}

func (i386Backend) ScanReloc(ctx *Context, sec *InputSection, idx int) error {
	r := &sec.Relocs[idx]
	class := classifyI386(r.Type)
	if class == RelNone {
		r.Class, r.Action = RelNone, ActionNone
		return nil
	}
	sym := r.TargetSym
	ref := ClassifyRef(ctx, sym)
	pt, ok := i386Policy[class]
	action := ActionNone
	if ok {
		action = pt.Lookup(LinkModeOf(ctx), ref)
	}
	return RecordScanResult(ctx, sec, r, ScanResult{Class: class, Action: action, Ref: ref, Sym: sym})
}

func (i386Backend) RelaxGotLoad(code []byte, relocOffset int, relocType uint32) bool { return false }

func (i386Backend) ApplyAlloc(ctx *Context, sec *InputSection, idx int, out []byte) error {
	r := &sec.Relocs[idx]
	P := sec.OutputSection.Addr + sec.SecOffset + r.Offset
	S := targetAddress(r)
	A := uint64(r.Addend)
	loc := out[sec.OutputSection.FileOff+sec.SecOffset+r.Offset:]

	switch r.Type {
	case R_386_NONE:
	case R_386_32:
		binary.LittleEndian.PutUint32(loc, uint32(S+A))
	case R_386_PC32, R_386_PLT32:
		binary.LittleEndian.PutUint32(loc, uint32(int32(int64(S)+r.Addend-int64(P))))
	case R_386_16:
		binary.LittleEndian.PutUint16(loc, uint16(S+A))
	case R_386_8:
		loc[0] = byte(S + A)
	case R_386_TLS_LE, R_386_TLS_TPOFF:
		binary.LittleEndian.PutUint32(loc, uint32(int32(int64(S)-int64(ctx.Synthetic.TLSEnd))))
	}

	if r.Action == ActionBaserel || r.Action == ActionDynrel {
		e := RelaEntry{Offset: P}
		if r.Action == ActionBaserel {
			e.Type = R_386_RELATIVE
			e.Addend = int64(S) + r.Addend
		} else {
			e.Type = R_386_32
			e.Addend = r.Addend
			if r.TargetSym != nil {
				e.Sym = uint32(r.TargetSym.DynsymIdx)
			}
		}
		slot := sec.RelDynBase
		sec.RelDynBase++
		ctx.Synthetic.WriteRelaDyn(slot, e)
	}
	return nil
}

func (i386Backend) ApplyNonAlloc(ctx *Context, sec *InputSection, idx int, out []byte) error {
	r := &sec.Relocs[idx]
	S := targetAddress(r)
	loc := out[sec.SecOffset+r.Offset:]
	switch r.Type {
	case R_386_32:
		binary.LittleEndian.PutUint32(loc, uint32(S+uint64(r.Addend)))
	case R_386_16:
		binary.LittleEndian.PutUint16(loc, uint16(S+uint64(r.Addend)))
	case R_386_8:
		loc[0] = byte(S + uint64(r.Addend))
	}
	return nil
}

func (i386Backend) EmitPLTHeader(out *OutBuf, gotPlt uint64, plt uint64) {
	out.Data[0] = 0xff
	out.Data[1] = 0x35
	binary.LittleEndian.PutUint32(out.Data[2:], uint32(gotPlt+4))
	out.Data[6] = 0xff
	out.Data[7] = 0x25
	binary.LittleEndian.PutUint32(out.Data[8:], uint32(gotPlt+8))
}

func (i386Backend) EmitPLTEntry(out *OutBuf, sym *Symbol, gotPlt uint64, plt uint64, pltIdx int) {
	off := 16 + pltIdx*16
	out.Data[off] = 0xff
	out.Data[off+1] = 0x25
	binary.LittleEndian.PutUint32(out.Data[off+2:], uint32(gotPlt+uint64(12+pltIdx*4)))
	out.Data[off+6] = 0x68
	binary.LittleEndian.PutUint32(out.Data[off+7:], uint32(pltIdx))
	out.Data[off+11] = 0xe9
	binary.LittleEndian.PutUint32(out.Data[off+12:], uint32(plt-(plt+uint64(off))-16))
}

func (i386Backend) EmitPLTGOTEntry(out *OutBuf, sym *Symbol) {
	off := sym.PltGotIdx * 8
	if off < 0 || off+8 > len(out.Data) {
		return
	}
	out.Data[off] = 0xff
	out.Data[off+1] = 0x25
}
