package fixture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
)

const (
	sectorSize = 512
	// Streams below this size live in the mini stream; workbook streams
	// are padded past it so they always use regular sectors.
	miniCutoff = 4096

	fatSect    = 0xFFFFFFFD
	endOfChain = 0xFFFFFFFE
	freeSect   = 0xFFFFFFFF

	maxLabelChars = 255
)

var le = binary.LittleEndian

// Workbook renders rows as the first and only sheet of a BIFF8 workbook in
// a compound file, the container of the legacy .xls station files. Cells
// that read as decimal numbers, with a point or a comma, become NUMBER
// records; other non-empty cells become LABEL records.
func Workbook(rows [][]string) ([]byte, error) {
	stream, err := workbookStream(rows)
	if err != nil {
		return nil, err
	}
	return compoundFile(stream)
}

// StationWorkbook renders the same content as StationFile as a workbook.
func StationWorkbook(s Station, opts Options) ([]byte, error) {
	preamble, table := stationRows(s, opts)
	return Workbook(append(preamble, table...))
}

func workbookStream(rows [][]string) ([]byte, error) {
	var globals, sheet bytes.Buffer

	writeRecord(&globals, 0x0809, bofBody(0x0005))
	writeRecord(&globals, 0x0042, le.AppendUint16(nil, 1200)) // CODEPAGE: UTF-16
	// BOUNDSHEET: stream offset patched below, visible worksheet, name.
	boundsheet := append(make([]byte, 4), 0, 0)
	boundsheet = append(boundsheet, biffString("Sheet1", false)...)
	writeRecord(&globals, 0x0085, boundsheet)
	writeRecord(&globals, 0x000A, nil)

	writeRecord(&sheet, 0x0809, bofBody(0x0010))
	for r, row := range rows {
		if r > math.MaxUint16 {
			return nil, fmt.Errorf("workbook row %d out of range", r)
		}
		for c, v := range row {
			if c >= 256 {
				return nil, fmt.Errorf("workbook row %d has %d columns", r, len(row))
			}
			if strings.TrimSpace(v) == "" {
				continue
			}
			cell := le.AppendUint16(le.AppendUint16(nil, uint16(r)), uint16(c))
			cell = le.AppendUint16(cell, 0) // XF
			if f, err := strconv.ParseFloat(strings.Replace(v, ",", ".", 1), 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
				writeRecord(&sheet, 0x0203, le.AppendUint64(cell, math.Float64bits(f)))
				continue
			}
			if len([]rune(v)) > maxLabelChars {
				return nil, fmt.Errorf("workbook cell %d,%d is longer than %d characters", r, c, maxLabelChars)
			}
			writeRecord(&sheet, 0x0204, append(cell, biffString(v, true)...))
		}
	}
	writeRecord(&sheet, 0x000A, nil)

	stream := globals.Bytes()
	le.PutUint32(stream[boundsheetOffset(stream):], uint32(len(stream)))
	stream = append(stream, sheet.Bytes()...)

	padded := max(miniCutoff, (len(stream)+sectorSize-1)/sectorSize*sectorSize)
	return append(stream, make([]byte, padded-len(stream))...), nil
}

func bofBody(kind uint16) []byte {
	b := le.AppendUint16(nil, 0x0600) // BIFF8
	b = le.AppendUint16(b, kind)
	return append(b, make([]byte, 12)...)
}

func writeRecord(w *bytes.Buffer, id uint16, body []byte) {
	var hdr [4]byte
	le.PutUint16(hdr[:], id)
	le.PutUint16(hdr[2:], uint16(len(body)))
	w.Write(hdr[:])
	w.Write(body)
}

// biffString encodes an unformatted BIFF8 string: a character count (two
// bytes when wide, else one), an option byte, then Latin-1 or UTF-16LE.
func biffString(s string, wideCount bool) []byte {
	compressed := true
	for _, r := range s {
		if r > 0xFF {
			compressed = false
			break
		}
	}
	units := utf16.Encode([]rune(s))
	var b []byte
	if wideCount {
		b = le.AppendUint16(b, uint16(len(units)))
	} else {
		b = append(b, byte(len(units)))
	}
	if compressed {
		b = append(b, 0)
		for _, u := range units {
			b = append(b, byte(u))
		}
		return b
	}
	b = append(b, 1)
	for _, u := range units {
		b = le.AppendUint16(b, u)
	}
	return b
}

// boundsheetOffset finds the stream offset field of the first BOUNDSHEET.
func boundsheetOffset(stream []byte) int {
	for off := 0; off+4 <= len(stream); {
		id, size := le.Uint16(stream[off:]), int(le.Uint16(stream[off+2:]))
		if id == 0x0085 {
			return off + 4
		}
		off += 4 + size
	}
	panic("fixture: workbook globals without a sheet")
}

// compoundFile wraps stream as the "Workbook" stream of a version 3
// compound file: FAT sectors first, then one directory sector, then the
// stream's sectors in order.
func compoundFile(stream []byte) ([]byte, error) {
	streamSectors := len(stream) / sectorSize
	fatSectors := 1
	for fatSectors*sectorSize/4 < fatSectors+1+streamSectors {
		fatSectors++
	}
	if fatSectors > 109 {
		return nil, fmt.Errorf("workbook stream of %d bytes needs a DIFAT", len(stream))
	}
	dirSector := fatSectors
	firstStream := dirSector + 1

	out := make([]byte, sectorSize*(1+firstStream+streamSectors))

	h := out[:sectorSize]
	copy(h, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1})
	le.PutUint16(h[0x18:], 0x003E) // minor version
	le.PutUint16(h[0x1A:], 0x0003) // major version
	le.PutUint16(h[0x1C:], 0xFFFE)
	le.PutUint16(h[0x1E:], 9) // 512-byte sectors
	le.PutUint16(h[0x20:], 6) // 64-byte mini sectors
	le.PutUint32(h[0x2C:], uint32(fatSectors))
	le.PutUint32(h[0x30:], uint32(dirSector))
	le.PutUint32(h[0x38:], miniCutoff)
	le.PutUint32(h[0x3C:], endOfChain)
	le.PutUint32(h[0x44:], endOfChain)
	for i := range 109 {
		sid := uint32(freeSect)
		if i < fatSectors {
			sid = uint32(i)
		}
		le.PutUint32(h[0x4C+4*i:], sid)
	}

	fat := make([]uint32, fatSectors*sectorSize/4)
	for i := range fat {
		switch {
		case i < fatSectors:
			fat[i] = fatSect
		case i == dirSector:
			fat[i] = endOfChain
		case i < firstStream+streamSectors-1:
			fat[i] = uint32(i + 1)
		case i == firstStream+streamSectors-1:
			fat[i] = endOfChain
		default:
			fat[i] = freeSect
		}
	}
	for i, v := range fat {
		le.PutUint32(out[sectorSize+4*i:], v)
	}

	dir := out[sectorSize*(1+dirSector):]
	putDirEntry(dir[0:], "Root Entry", 5, 1, endOfChain, 0)
	putDirEntry(dir[128:], "Workbook", 2, freeSect, uint32(firstStream), uint32(len(stream)))
	for _, off := range []int{256, 384} {
		le.PutUint32(dir[off+68:], freeSect)
		le.PutUint32(dir[off+72:], freeSect)
		le.PutUint32(dir[off+76:], freeSect)
	}

	copy(out[sectorSize*(1+firstStream):], stream)
	return out, nil
}

func putDirEntry(e []byte, name string, kind byte, child, start, size uint32) {
	units := utf16.Encode([]rune(name))
	for i, u := range units {
		le.PutUint16(e[2*i:], u)
	}
	le.PutUint16(e[64:], uint16(2*(len(units)+1)))
	e[66] = kind
	e[67] = 1 // black
	le.PutUint32(e[68:], freeSect)
	le.PutUint32(e[72:], freeSect)
	le.PutUint32(e[76:], child)
	le.PutUint32(e[116:], start)
	le.PutUint32(e[120:], size)
}
