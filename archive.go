package elink

import (
	"strconv"
	"strings"
)

// ArchiveMember is one member extracted from a SysV `ar` archive
// (spec.md 6): either the member's own bytes (a "fat" archive) or,
// for a thin archive, the path of an external file the member refers
// to.
type ArchiveMember struct {
	Name string
	Data []byte // nil for a thin-archive reference
	Path string // set for a thin-archive reference, relative to the archive's directory
}

const arGlobalHeader = "!<arch>\n"
const arThinHeader = "!<thin>\n"

// ParseArchive implements spec.md 6's SysV ar format: a global header,
// per-member 60-byte headers, an optional "//" long-filename table, and
// "/N" extended-name references, grounded on the original's
// archive_file.cc (read_fat_archive_members / read_thin_archive_members)
// ported from raw pointer walking to slice indexing.
func ParseArchive(dir string, data []byte) ([]ArchiveMember, error) {
	if len(data) < 8 {
		return nil, Fatalf("archive: truncated header")
	}
	thin := false
	switch string(data[:8]) {
	case arGlobalHeader:
	case arThinHeader:
		thin = true
	default:
		return nil, Fatalf("archive: bad magic")
	}

	var members []ArchiveMember
	var longNames string
	pos := 8
	for pos+60 <= len(data) {
		hdr := data[pos : pos+60]
		name := strings.TrimRight(string(hdr[0:16]), " ")
		sizeStr := strings.TrimSpace(string(hdr[48:58]))
		size, err := strconv.Atoi(sizeStr)
		if err != nil {
			return nil, Fatalf("archive: bad member size %q", sizeStr)
		}
		bodyStart := pos + 60

		special := strings.HasPrefix(name, "// ") || name == "//" ||
			strings.HasPrefix(name, "/ ") || name == "/" ||
			strings.HasPrefix(name, "__.SYMDEF")

		// In a thin archive, special members (the long-name table, the
		// symbol index) are stored with real bodies; regular members
		// are not -- the header is followed immediately by the next
		// header (spec.md 6, grounded on archive_file.cc's
		// read_thin_archive_members: `data = body;` vs `data = body +
		// size;`).
		hasBody := !thin || special
		bodyEnd := bodyStart
		if hasBody {
			bodyEnd = bodyStart + size
			if bodyEnd > len(data) {
				return nil, Fatalf("archive: member %q overruns archive", name)
			}
		}

		switch {
		case strings.HasPrefix(name, "// "), name == "//":
			longNames = string(data[bodyStart:bodyEnd])
		case strings.HasPrefix(name, "/ "), name == "/":
			// symbol-index member; the core's own symbol-table index
			// is out of scope (archive member *selection* happens via
			// the resolver's own lazy-registration pass, spec.md 4.3
			// Phase A/C, not via this index).
		case strings.HasPrefix(name, "__.SYMDEF"):
			// BSD-style symbol index; same treatment as "/ ".
		default:
			resolved, err := resolveMemberName(name, longNames)
			if err != nil {
				return nil, err
			}
			if thin {
				members = append(members, ArchiveMember{Name: resolved, Path: joinPath(dir, resolved)})
			} else {
				members = append(members, ArchiveMember{Name: resolved, Data: data[bodyStart:bodyEnd]})
			}
		}

		// Members are padded to an even byte boundary.
		next := bodyEnd
		if (bodyEnd-bodyStart)%2 == 1 {
			next++
		}
		pos = next
	}
	return members, nil
}

// resolveMemberName handles the "/N" extended-name-table reference
// (spec.md 6) by looking up the name starting at byte offset N in the
// "//" member, terminated by "/\n".
func resolveMemberName(name, longNames string) (string, error) {
	if !strings.HasPrefix(name, "/") {
		return strings.TrimSuffix(name, "/"), nil
	}
	offStr := strings.TrimPrefix(name, "/")
	off, err := strconv.Atoi(offStr)
	if err != nil || off < 0 || off >= len(longNames) {
		return "", Fatalf("archive: bad long-name reference %q", name)
	}
	rest := longNames[off:]
	if idx := strings.Index(rest, "/\n"); idx >= 0 {
		rest = rest[:idx]
	}
	return rest, nil
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
