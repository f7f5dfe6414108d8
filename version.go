package elink

import "encoding/binary"

// VerdefEntry is one `.gnu.version_d` record. SPEC_FULL.md's supplemented
// default-versioning feature emits exactly one: the base "this is version
// 1 of the output itself" entry every GNU-compatible DSO carries even
// without a parsed `--version-script`.
type VerdefEntry struct {
	Version uint16
	Flags   uint16
	Name    string
}

// BuildVersionTables assembles two dynamic-versioning sections,
// `.gnu.version` and `.gnu.version_d` (no `.gnu.version_r` is built),
// (spec.md 4.8's "versioning sections") for the default, no
// `--version-script` case: every exported dynamic symbol gets
// VER_NDX_GLOBAL (1) in `.gnu.version`, and `.gnu.version_d` carries the
// single base Verdef GNU ld always emits for a DSO's own SONAME.
func BuildVersionTables(ctx *Context) (versym, verdef []byte) {
	ss := ctx.Synthetic
	n := len(ss.DynsymOrder) + 1
	versym = make([]byte, 2*n)
	for i, sym := range ss.DynsymOrder {
		idx := 1
		if sym.VersionIdx != 0 {
			idx = int(sym.VersionIdx)
		}
		binary.LittleEndian.PutUint16(versym[2*(i+1):], uint16(idx))
	}

	if !ctx.Config.Output.IsDSO() {
		return versym, nil
	}

	name := ctx.Config.Soname
	if name == "" {
		name = "base"
	}
	verdef = make([]byte, 20+4)
	binary.LittleEndian.PutUint16(verdef[0:], 1)  // vd_version
	binary.LittleEndian.PutUint16(verdef[2:], 1)  // vd_flags: VER_FLG_BASE
	binary.LittleEndian.PutUint16(verdef[4:], 1)  // vd_ndx
	binary.LittleEndian.PutUint16(verdef[6:], 1)  // vd_cnt
	binary.LittleEndian.PutUint32(verdef[8:], sysvHash(name)) // vd_hash: ELF hash of the version name
	binary.LittleEndian.PutUint32(verdef[12:], 20) // vd_aux
	binary.LittleEndian.PutUint32(verdef[16:], 0)  // vd_next: this is the only entry
	return versym, verdef
}
