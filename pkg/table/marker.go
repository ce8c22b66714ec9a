package table

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/xapian/xapiango/pkg/xapianerr"
)

// markerName is this engine variant's marker file (spec section 6: "a
// marker file whose name encodes the engine variant ... containing
// magic bytes and a format-version integer"). The upstream engine this
// spec describes names its variants iamflint/iamchert/iambrass as the
// on-disk format evolved; this is a from-scratch format, so it gets its
// own name rather than claiming compatibility with any of those three.
const markerName = "iamxapiango"

const markerMagic = "XAPIANGO"
const markerFormatVersion = 1

// ensureMarker writes a fresh marker file for a brand-new database
// directory, or validates an existing one's magic and format version.
// A directory with no marker and no tables yet is fine to leave
// unmarked until the first write-mode Open creates it; a read-only
// Open of a directory with no marker at all is a DatabaseOpening
// error, since there is nothing to read.
func ensureMarker(dir string, readOnly bool) error {
	path := filepath.Join(dir, markerName)
	buf, err := os.ReadFile(path)
	if err == nil {
		return checkMarker(buf)
	}
	if !os.IsNotExist(err) {
		return xapianerr.New(xapianerr.DatabaseOpening, "read marker file").Wrap(err)
	}
	if readOnly {
		return xapianerr.New(xapianerr.DatabaseOpening, "database directory has no marker file")
	}
	out := make([]byte, len(markerMagic)+4)
	copy(out, markerMagic)
	binary.BigEndian.PutUint32(out[len(markerMagic):], markerFormatVersion)
	if err := os.WriteFile(path, out, 0644); err != nil {
		return xapianerr.New(xapianerr.DatabaseOpening, "write marker file").Wrap(err)
	}
	return nil
}

func checkMarker(buf []byte) error {
	if len(buf) != len(markerMagic)+4 || string(buf[:len(markerMagic)]) != markerMagic {
		return xapianerr.New(xapianerr.DatabaseOpening, "marker file magic mismatch")
	}
	version := binary.BigEndian.Uint32(buf[len(markerMagic):])
	if version != markerFormatVersion {
		return xapianerr.Newf(xapianerr.DatabaseVersion, "marker format version %d unsupported", version)
	}
	return nil
}
