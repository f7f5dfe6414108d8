package elink

import "encoding/binary"

// arm64Backend implements Backend for EM_AARCH64, grounded on the
// teacher's arm64_instructions.go/arm64_codegen.go (instruction-field bit
// packing helpers, generalized from code generation to relocation
// patching) and the original's arch-aarch64.cc for the page/immediate
// split ADRP/ADD relocation pairs and the PLT stub template.
type arm64Backend struct{}

func init() { RegisterBackend(arm64Backend{}) }

func (arm64Backend) Arch() Arch { return ArchARM64 }

func classifyARM64(relType uint32) RelocClass {
	switch relType {
	case R_AARCH64_NONE:
		return RelNone
	case R_AARCH64_ABS64, R_AARCH64_ABS32, R_AARCH64_ABS16,
		R_AARCH64_ADD_ABS_LO12_NC, R_AARCH64_LDST8_ABS_LO12_NC, R_AARCH64_LDST16_ABS_LO12_NC,
		R_AARCH64_LDST32_ABS_LO12_NC, R_AARCH64_LDST64_ABS_LO12_NC:
		return RelAbsolute
	case R_AARCH64_PREL64, R_AARCH64_PREL32, R_AARCH64_PREL16,
		R_AARCH64_CALL26, R_AARCH64_JUMP26, R_AARCH64_ADR_PREL_PG_HI21:
		return RelPCRelative
	case R_AARCH64_ADR_GOT_PAGE, R_AARCH64_LD64_GOT_LO12_NC:
		return RelGOTIndirect
	case R_AARCH64_TLSGD_ADR_PAGE21, R_AARCH64_TLSGD_ADD_LO12_NC:
		return RelTLSGD
	case R_AARCH64_TLSLD_ADR_PAGE21:
		return RelTLSLD
	case R_AARCH64_TLSIE_ADR_GOTTPREL_PAGE21, R_AARCH64_TLSIE_LD64_GOTTPREL_LO12_NC:
		return RelTLSIE
	case R_AARCH64_TLSLE_ADD_TPREL_HI12, R_AARCH64_TLSLE_ADD_TPREL_LO12_NC:
		return RelTLSLE
	case R_AARCH64_TLSDESC_ADR_PAGE21, R_AARCH64_TLSDESC_LD64_LO12, R_AARCH64_TLSDESC_ADD_LO12, R_AARCH64_TLSDESC_CALL:
		return RelTLSDESC
	default:
		return RelAbsolute
	}
}

// CALL26/JUMP26 carry an implicit PLT reference when the target is
// imported code. They keep RelocClass RelPCRelative (which alone doesn't
// distinguish a direct branch from a call-through-PLT the way x86-64's
// separate PLT32 type does); the RelPCRelative table's imported-code
// column below resolves them to ActionPLT.
var arm64Policy = map[RelocClass]PolicyTable{
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
	RelTLSGD:   {ModeExec: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone}, ModePIE: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone}, ModeDSO: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone}},
	RelTLSLD:   {ModeExec: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone}, ModePIE: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone}, ModeDSO: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone}},
	RelTLSIE:   {ModeExec: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone}, ModePIE: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone}, ModeDSO: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone}},
	RelTLSLE:   {ModeExec: [4]RelocAction{ActionNone, ActionNone, ActionError, ActionError}, ModePIE: [4]RelocAction{ActionNone, ActionNone, ActionError, ActionError}, ModeDSO: [4]RelocAction{ActionError, ActionError, ActionError, ActionError}},
	RelTLSDESC: {ModeExec: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone}, ModePIE: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone}, ModeDSO: [4]RelocAction{ActionNone, ActionNone, ActionNone, ActionNone}},
}

func (arm64Backend) ScanReloc(ctx *Context, sec *InputSection, idx int) error {
	r := &sec.Relocs[idx]
	class := classifyARM64(r.Type)
	if class == RelNone {
		r.Class, r.Action = RelNone, ActionNone
		return nil
	}
	sym := r.TargetSym
	ref := ClassifyRef(ctx, sym)
	if (r.Type == R_AARCH64_CALL26 || r.Type == R_AARCH64_JUMP26) && ref != RefImportedCode {
		class = RelPCRelative
	}
	pt, ok := arm64Policy[class]
	action := ActionNone
	if ok {
		action = pt.Lookup(LinkModeOf(ctx), ref)
	}
	return RecordScanResult(ctx, sec, r, ScanResult{Class: class, Action: action, Ref: ref, Sym: sym})
}

func (arm64Backend) RelaxGotLoad(code []byte, relocOffset int, relocType uint32) bool { return false }

// page splits the ADRP/page-relative-immediate pair (spec.md 4.10):
// page(addr) is addr with its low 12 bits cleared.
func page(addr uint64) uint64 { return addr &^ 0xfff }

func (arm64Backend) ApplyAlloc(ctx *Context, sec *InputSection, idx int, out []byte) error {
	r := &sec.Relocs[idx]
	P := sec.OutputSection.Addr + sec.SecOffset + r.Offset
	S := targetAddress(r)
	A := uint64(r.Addend)
	loc := out[sec.OutputSection.FileOff+sec.SecOffset+r.Offset:]

	switch r.Type {
	case R_AARCH64_NONE:
	case R_AARCH64_ABS64:
		binary.LittleEndian.PutUint64(loc, S+A)
	case R_AARCH64_ABS32:
		binary.LittleEndian.PutUint32(loc, uint32(S+A))
	case R_AARCH64_PREL32:
		binary.LittleEndian.PutUint32(loc, uint32(int32(int64(S)+r.Addend-int64(P))))
	case R_AARCH64_PREL64:
		binary.LittleEndian.PutUint64(loc, S+A-P)
	case R_AARCH64_CALL26, R_AARCH64_JUMP26:
		imm := (int64(S) + r.Addend - int64(P)) >> 2
		insn := binary.LittleEndian.Uint32(loc[:4])
		insn = (insn &^ 0x03ffffff) | uint32(imm)&0x03ffffff
		binary.LittleEndian.PutUint32(loc[:4], insn)
	case R_AARCH64_ADR_PREL_PG_HI21, R_AARCH64_ADR_GOT_PAGE:
		imm := int64(page(S+A)) - int64(page(P))
		writeADRImmediate(loc, imm>>12)
	case R_AARCH64_ADD_ABS_LO12_NC, R_AARCH64_LD64_GOT_LO12_NC:
		writeLo12Immediate(loc, (S+A)&0xfff)
	}

	if r.Action == ActionBaserel || r.Action == ActionDynrel {
		e := RelaEntry{Offset: P}
		if r.Action == ActionBaserel {
			e.Type = R_AARCH64_RELATIVE
			e.Addend = int64(S) + r.Addend
		} else {
			e.Type = R_AARCH64_ABS64
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

// writeADRImmediate packs a 21-bit PC-relative page immediate into an
// ADRP/ADR instruction's immlo/immhi fields (bits 29-30, 5-23).
func writeADRImmediate(loc []byte, imm int64) {
	insn := binary.LittleEndian.Uint32(loc[:4])
	u := uint32(imm)
	insn = insn&^(0x3<<29) | (u&0x3)<<29
	insn = insn&^(0x7ffff<<5) | ((u>>2)&0x7ffff)<<5
	binary.LittleEndian.PutUint32(loc[:4], insn)
}

// writeLo12Immediate packs a 12-bit page-offset immediate into an
// ADD/LDR/STR instruction's imm12 field (bits 10-21).
func writeLo12Immediate(loc []byte, off uint64) {
	insn := binary.LittleEndian.Uint32(loc[:4])
	insn = insn&^(0xfff<<10) | (uint32(off)&0xfff)<<10
	binary.LittleEndian.PutUint32(loc[:4], insn)
}

func (arm64Backend) ApplyNonAlloc(ctx *Context, sec *InputSection, idx int, out []byte) error {
	r := &sec.Relocs[idx]
	S := targetAddress(r)
	loc := out[sec.SecOffset+r.Offset:]
	switch r.Type {
	case R_AARCH64_ABS64:
		binary.LittleEndian.PutUint64(loc, S+uint64(r.Addend))
	case R_AARCH64_ABS32:
		binary.LittleEndian.PutUint32(loc, uint32(S+uint64(r.Addend)))
	}
	return nil
}

// arm64 PLT stub template (16 bytes, the original's arch-aarch64.cc
// shape): adrp x16,GOT ; ldr x17,[x16,#lo12] ; add x16,x16,#lo12 ; br x17.
func (arm64Backend) EmitPLTHeader(out *OutBuf, gotPlt uint64, plt uint64) {
	adrp := pageADRPInsn(16, gotPlt+16, plt)
	binary.LittleEndian.PutUint32(out.Data[0:], adrp)
	binary.LittleEndian.PutUint32(out.Data[4:], ldrImm(17, 16, (gotPlt+16)&0xfff))
	binary.LittleEndian.PutUint32(out.Data[8:], addImm(16, 16, (gotPlt+16)&0xfff))
	binary.LittleEndian.PutUint32(out.Data[12:], brInsn(17))
}

func (arm64Backend) EmitPLTEntry(out *OutBuf, sym *Symbol, gotPlt uint64, plt uint64, pltIdx int) {
	off := 16 + pltIdx*16
	entryAddr := plt + uint64(off)
	slot := gotPlt + uint64(24+pltIdx*8)
	binary.LittleEndian.PutUint32(out.Data[off:], pageADRPInsn(16, slot, entryAddr))
	binary.LittleEndian.PutUint32(out.Data[off+4:], ldrImm(17, 16, slot&0xfff))
	binary.LittleEndian.PutUint32(out.Data[off+8:], addImm(16, 16, slot&0xfff))
	binary.LittleEndian.PutUint32(out.Data[off+12:], brInsn(17))
}

func (arm64Backend) EmitPLTGOTEntry(out *OutBuf, sym *Symbol) {
	off := sym.PltGotIdx * 16
	if off < 0 || off+16 > len(out.Data) {
		return
	}
	binary.LittleEndian.PutUint32(out.Data[off+12:], brInsn(17))
}

func pageADRPInsn(rd, target, pc uint64) uint32 {
	imm := int64(page(target)) - int64(page(pc))
	insn := uint32(0x90000000) | uint32(rd)
	u := uint32(imm >> 12)
	insn |= (u & 0x3) << 29
	insn |= ((u >> 2) & 0x7ffff) << 5
	return insn
}

func ldrImm(rt, rn uint64, off uint64) uint32 {
	return uint32(0xf9400000) | uint32(rt) | uint32(rn)<<5 | uint32((off/8)&0xfff)<<10
}

func addImm(rd, rn uint64, off uint64) uint32 {
	return uint32(0x91000000) | uint32(rd) | uint32(rn)<<5 | uint32(off&0xfff)<<10
}

func brInsn(rn uint64) uint32 {
	return uint32(0xd61f0000) | uint32(rn)<<5
}
