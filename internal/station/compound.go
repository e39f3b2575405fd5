package station

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf16"

	"github.com/couchcryptid/weather-archive-etl/internal/domain"
)

// The workbook reader trusts the compound file header and the BIFF record
// sizes it finds. A cyclic sector chain, an inflated count or a sector id
// past the allocation table ends in an unbounded allocation, an endless
// loop or a process exit instead of an error. checkWorkbook walks the same
// structures the reader will and rejects a member before any of that can
// happen. It follows the reader's quirks (32-bit sector offsets, the mini
// FAT built from its first sector, streams read to the end of their chain)
// rather than the container format's rules.

const (
	sectorSize     = 512
	miniSectorSize = 64
	miniCutoff     = 4096
	dirEntrySize   = 128
	headerFATSlots = 109

	endOfChain = 0xFFFFFFFE

	maxRecordBytes = 8224
	maxColumns     = 256

	recEOF        = 0x000A
	recFormula    = 0x0006
	recFont       = 0x0031
	recContinue   = 0x003C
	recBoundSheet = 0x0085
	recMulRK      = 0x00BD
	recMulBlank   = 0x00BE
	recSST        = 0x00FC
	recLabelSST   = 0x00FD
	recHyperlink  = 0x01B8
	recBlank      = 0x0201
	recNumber     = 0x0203
	recLabel      = 0x0204
	recRow        = 0x0208
	recRK         = 0x027E
	recFormat     = 0x041E
	recBOF        = 0x0809

	biff8 = 0x0600
)

var (
	compoundMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	le            = binary.LittleEndian
)

func unreadable(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), domain.ReasonMemberUnreadable)
}

// checkWorkbook reports whether data is a compound file whose workbook
// stream the reader can consume.
func checkWorkbook(data []byte) error {
	cf, err := openCompound(data)
	if err != nil {
		return err
	}
	stream, size, err := cf.workbookStream()
	if err != nil {
		return err
	}
	return scanBIFF(stream, size)
}

type compoundFile struct {
	data     []byte
	sectors  uint32 // whole or partial sectors after the header
	dirStart uint32
	fat      []uint32
	miniFAT  []uint32
}

func openCompound(data []byte) (*compoundFile, error) {
	if len(data) < sectorSize || !bytes.Equal(data[:len(compoundMagic)], compoundMagic) {
		return nil, fmt.Errorf("no compound file signature: %w", domain.ReasonDialectUnknown)
	}
	if len(data) > math.MaxInt32 {
		return nil, unreadable("compound file of %d bytes is too large", len(data))
	}
	if bom := le.Uint16(data[0x1C:]); bom != 0xFFFE {
		return nil, unreadable("byte order mark %#04x", bom)
	}
	if shift, mini := le.Uint16(data[0x1E:]), le.Uint16(data[0x20:]); shift != 9 || mini != 6 {
		return nil, unreadable("sector shifts %d and %d, want 9 and 6", shift, mini)
	}

	var (
		fatSectors   = le.Uint32(data[0x2C:])
		cutoff       = le.Uint32(data[0x38:])
		miniFATStart = le.Uint32(data[0x3C:])
		miniSectors  = le.Uint32(data[0x40:])
		difStart     = le.Uint32(data[0x44:])
		difSectors   = le.Uint32(data[0x48:])
	)
	cf := &compoundFile{
		data:     data,
		sectors:  uint32((len(data) - 1) / sectorSize),
		dirStart: le.Uint32(data[0x30:]),
	}
	if cutoff != miniCutoff {
		return nil, unreadable("mini stream cutoff %d", cutoff)
	}
	if fatSectors > cf.sectors || miniSectors > cf.sectors {
		return nil, unreadable("allocation tables claim %d and %d sectors in a file of %d",
			fatSectors, miniSectors, cf.sectors)
	}
	var maxDIF uint32
	if fatSectors > headerFATSlots {
		maxDIF = (fatSectors - headerFATSlots + 126) / 127
	}
	if difSectors > maxDIF {
		return nil, unreadable("%d DIFAT sectors for %d FAT sectors", difSectors, fatSectors)
	}

	for i := range min(fatSectors, headerFATSlots) {
		cf.fat = appendIDs(cf.fat, cf.sector(le.Uint32(data[0x4C+4*i:])), sectorSize/4)
	}
	sid := difStart
	for steps := uint32(0); sid != endOfChain; steps++ {
		if steps == difSectors {
			return nil, unreadable("DIFAT chain does not end after %d sectors", steps)
		}
		dif := cf.sector(sid)
		for k := range sectorSize/4 - 1 {
			cf.fat = appendIDs(cf.fat, cf.sector(le.Uint32(dif[4*k:])), sectorSize/4)
		}
		sid = le.Uint32(dif[sectorSize-4:])
	}

	// The reader rereads the first mini FAT sector once per declared sector
	// and drops its last slot.
	if miniFATStart != endOfChain && miniSectors > 0 {
		ids := appendIDs(nil, cf.sector(miniFATStart), sectorSize/4-1)
		cf.miniFAT = make([]uint32, 0, len(ids)*int(miniSectors))
		for range miniSectors {
			cf.miniFAT = append(cf.miniFAT, ids...)
		}
	}
	return cf, nil
}

// sector returns sector sid as the reader sees it: the offset wraps at 32
// bits and bytes past the end of the file read as zero.
func (cf *compoundFile) sector(sid uint32) []byte {
	buf := make([]byte, sectorSize)
	if off := int64(sectorSize + sid*sectorSize); off < int64(len(cf.data)) {
		copy(buf, cf.data[off:])
	}
	return buf
}

func appendIDs(ids []uint32, sector []byte, n int) []uint32 {
	for k := range n {
		ids = append(ids, le.Uint32(sector[4*k:]))
	}
	return ids
}

// chain follows a sector chain to its end. Every id must index table and
// stay below limit, and a chain longer than limit has a cycle.
func chain(start uint32, table []uint32, limit uint32) ([]uint32, error) {
	var ids []uint32
	for sid := start; sid != endOfChain; sid = table[sid] {
		if sid >= limit || int(sid) >= len(table) {
			return nil, unreadable("sector chain from %d reaches id %#x", start, sid)
		}
		if uint32(len(ids)) >= limit {
			return nil, unreadable("sector chain from %d does not end", start)
		}
		ids = append(ids, sid)
	}
	return ids, nil
}

func (cf *compoundFile) gather(ids []uint32) []byte {
	out := make([]byte, 0, len(ids)*sectorSize)
	for _, id := range ids {
		off := sectorSize + int(id)*sectorSize
		out = append(out, cf.data[off:min(off+sectorSize, len(cf.data))]...)
	}
	return out
}

type dirEntry struct {
	name        string
	start, size uint32
}

// directory lists entries up to the first empty one, which is where the
// reader stops.
func (cf *compoundFile) directory() ([]dirEntry, error) {
	var entries []dirEntry
	sid := cf.dirStart
	for visited := uint32(0); ; visited++ {
		if sid >= cf.sectors {
			return nil, unreadable("directory sector %#x outside the file", sid)
		}
		if visited == cf.sectors {
			return nil, unreadable("directory chain does not end")
		}
		off := sectorSize + int(sid)*sectorSize
		if off+sectorSize > len(cf.data) {
			return nil, unreadable("directory sector %d is truncated", sid)
		}
		for k := off; k < off+sectorSize; k += dirEntrySize {
			raw := cf.data[k : k+dirEntrySize]
			if raw[66] == 0 {
				return entries, nil
			}
			e, err := parseDirEntry(raw)
			if err != nil {
				return nil, err
			}
			entries = append(entries, e)
		}
		// The reader stops at the physical end of the file.
		if off+sectorSize == len(cf.data) {
			return entries, nil
		}
		if int(sid) >= len(cf.fat) {
			return nil, unreadable("directory sector %d has no allocation entry", sid)
		}
		if sid = cf.fat[sid]; sid == endOfChain {
			return entries, nil
		}
	}
}

func parseDirEntry(raw []byte) (dirEntry, error) {
	n := le.Uint16(raw[64:])
	if n < 2 || n > 64 {
		return dirEntry{}, unreadable("directory entry name of %d bytes", n)
	}
	units := make([]uint16, n/2-1)
	for i := range units {
		units[i] = le.Uint16(raw[2*i:])
	}
	return dirEntry{
		name:  string(utf16.Decode(units)),
		start: le.Uint32(raw[116:]),
		size:  le.Uint32(raw[120:]),
	}, nil
}

// workbookStream returns the bytes the reader will parse, which run to the
// end of the stream's chain rather than its declared size, and that size.
func (cf *compoundFile) workbookStream() ([]byte, uint32, error) {
	entries, err := cf.directory()
	if err != nil {
		return nil, 0, err
	}
	var book, root *dirEntry
	for _, e := range entries {
		switch e.name {
		case "Workbook", "Book":
			book = &e
		case "Root Entry":
			root = &e
		}
	}
	if book == nil {
		return nil, 0, unreadable("no workbook stream")
	}

	if book.size >= miniCutoff {
		ids, err := chain(book.start, cf.fat, cf.sectors)
		if err != nil {
			return nil, 0, err
		}
		return cf.gather(ids), book.size, nil
	}

	if root == nil {
		return nil, 0, unreadable("small workbook stream without a root entry")
	}
	rootIDs, err := chain(root.start, cf.fat, cf.sectors)
	if err != nil {
		return nil, 0, err
	}
	mini := cf.gather(rootIDs)
	ids, err := chain(book.start, cf.miniFAT, uint32(len(cf.miniFAT)))
	if err != nil {
		return nil, 0, err
	}
	stream := make([]byte, 0, len(ids)*miniSectorSize)
	for _, id := range ids {
		off := int(id) * miniSectorSize
		if off+miniSectorSize > len(mini) {
			return nil, 0, unreadable("mini sector %d outside the mini stream", id)
		}
		stream = append(stream, mini[off:off+miniSectorSize]...)
	}
	return stream, book.size, nil
}

// biffScan replays the reader's record handling without its allocations.
// The string state carries over between records and sheets exactly as the
// reader keeps it on the workbook.
type biffScan struct {
	biff5        bool
	contUTF16    uint16
	contRich     uint16
	contPhonetic uint32
	sstCount     uint32
	sheets       []uint32
	err          error
}

// scanBIFF checks the record stream. Sheets are read by seeking, which the
// reader only gets right inside the declared stream size.
func scanBIFF(stream []byte, size uint32) error {
	s := &biffScan{}
	if err := s.globals(stream); err != nil {
		return err
	}
	if len(s.sheets) == 0 {
		return nil
	}
	declared := stream[:min(int(size), len(stream))]
	// The first sheet is parsed once to size it and again to read its cells.
	for range 2 {
		if err := s.sheet(declared, s.sheets[0]); err != nil {
			return err
		}
	}
	return nil
}

func (s *biffScan) globals(stream []byte) error {
	r := bytes.NewReader(stream)
	var prev uint16
	offset := 0
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil
		}
		id, size := le.Uint16(hdr[:]), le.Uint16(hdr[2:])
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			clear(body)
		}
		item := bytes.NewReader(body)

		switch id {
		case recBOF:
			if len(body) < 16 || le.Uint16(body) != biff8 {
				s.biff5 = true
			}
		case recContinue:
			if prev == recSST {
				offset = s.continueSST(item, offset)
			}
			if s.err != nil {
				return s.err
			}
			continue
		case recSST:
			var info [8]byte
			if _, err := io.ReadFull(item, info[:]); err != nil {
				clear(info[:])
			}
			s.sstCount = le.Uint32(info[4:])
			if s.sstCount > uint32(len(stream)/3) {
				return unreadable("shared string table claims %d strings", s.sstCount)
			}
			i := uint32(0)
			for ; i < s.sstCount; i++ {
				var n uint16
				if binary.Read(item, le, &n) == nil {
					if s.readString(item, n) == io.EOF {
						break
					}
				}
			}
			offset = int(i)
		case recBoundSheet:
			var bs [7]byte
			if _, err := io.ReadFull(item, bs[:]); err != nil {
				clear(bs[:])
			}
			s.sheets = append(s.sheets, le.Uint32(bs[:]))
			s.readString(item, uint16(bs[6]))
		case recFont:
			var f [15]byte
			if _, err := io.ReadFull(item, f[:]); err != nil {
				clear(f[:])
			}
			s.readString(item, uint16(f[14]))
		case recFormat:
			var h [4]byte
			if _, err := io.ReadFull(item, h[:]); err != nil {
				clear(h[:])
			}
			s.readString(item, le.Uint16(h[2:]))
		}
		if s.err != nil {
			return s.err
		}
		if id != recSST {
			offset = 0
		}
		prev = id
	}
}

func (s *biffScan) continueSST(item *bytes.Reader, offset int) int {
	var (
		n   uint16
		err error
	)
	if s.contUTF16 >= 1 {
		n, s.contUTF16 = s.contUTF16, 0
	} else {
		err = binary.Read(item, le, &n)
	}
	for err == nil && offset < int(s.sstCount) {
		if n > 0 {
			s.readString(item, n)
		}
		offset++
		err = binary.Read(item, le, &n)
	}
	return offset
}

// readString consumes one string the way the reader does and returns the
// read error it would see. A phonetic block larger than any record is
// recorded as the scan's failure instead of being allocated.
func (s *biffScan) readString(r *bytes.Reader, size uint16) error {
	if s.biff5 {
		return skipRead(r, int(size))
	}
	var (
		flag     byte
		rich     uint16
		phonetic uint32
	)
	err := binary.Read(r, le, &flag)
	if flag&0x8 != 0 {
		err = binary.Read(r, le, &rich)
	} else if s.contRich > 0 {
		rich, s.contRich = s.contRich, 0
	}
	if flag&0x4 != 0 {
		err = binary.Read(r, le, &phonetic)
	} else if s.contPhonetic > 0 {
		phonetic, s.contPhonetic = s.contPhonetic, 0
	}
	if phonetic > maxRecordBytes && s.err == nil {
		s.err = unreadable("string claims a %d byte phonetic block", phonetic)
	}

	if flag&0x1 != 0 {
		var unit uint16
		i := uint16(0)
		for ; i < size && err == nil; i++ {
			err = binary.Read(r, le, &unit)
		}
		if i < size {
			s.contUTF16 = size - i + 1
		}
	} else {
		n := min(int(size), r.Len())
		err = skipRead(r, int(size))
		if uint16(n) < size {
			s.contUTF16 = size - uint16(n)
			err = io.EOF
		}
	}

	if rich > 0 {
		if err = skipFull(r, int(4*rich)); err == io.EOF {
			s.contRich = rich
		}
	}
	if phonetic > 0 {
		if err = skipFull(r, int(phonetic)); err == io.EOF {
			s.contPhonetic = phonetic
		}
	}
	return err
}

// skipRead consumes what a single Read of n bytes would.
func skipRead(r *bytes.Reader, n int) error {
	if r.Len() == 0 {
		return io.EOF
	}
	_, _ = r.Seek(int64(min(n, r.Len())), io.SeekCurrent)
	return nil
}

// skipFull consumes what io.ReadFull of n bytes would.
func skipFull(r *bytes.Reader, n int) error {
	switch rem := r.Len(); {
	case n == 0:
		return nil
	case rem == 0:
		return io.EOF
	case rem < n:
		_, _ = r.Seek(0, io.SeekEnd)
		return io.ErrUnexpectedEOF
	default:
		_, _ = r.Seek(int64(n), io.SeekCurrent)
		return nil
	}
}

// cellSizes are the bytes the reader consumes for fixed-layout cell
// records, whatever the record header says.
var cellSizes = map[uint16]int{
	recRow:      16,
	recNumber:   14,
	recRK:       10,
	recLabelSST: 10,
	recBlank:    6,
}

// sheet replays the sheet parser from pos. That parser reads fixed-size
// cell records without looking at the record size, so any disagreement
// would desynchronize it; records must be exactly the size it expects.
func (s *biffScan) sheet(stream []byte, pos uint32) error {
	if int64(pos) >= int64(len(stream)) {
		return unreadable("sheet offset %d past the end of the workbook stream", pos)
	}
	r := bytes.NewReader(stream[pos:])
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return unreadable("sheet ends without an EOF record")
		}
		id, size := le.Uint16(hdr[:]), int(le.Uint16(hdr[2:]))
		if id == recEOF {
			return nil
		}
		body := r.Len()
		if err := s.cell(r, id, size); err != nil {
			return err
		}
		if consumed := body - r.Len(); consumed != size {
			return unreadable("record %#04x declares %d bytes but is read as %d", id, size, consumed)
		}
	}
}

func (s *biffScan) cell(r *bytes.Reader, id uint16, size int) error {
	if want, ok := cellSizes[id]; ok {
		if size != want {
			return unreadable("record %#04x is %d bytes, want %d", id, size, want)
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return unreadable("record %#04x is truncated", id)
		}
		if id == recRow {
			return nil
		}
		if col := le.Uint16(body[2:]); col >= maxColumns {
			return unreadable("cell in column %d", col)
		}
		if id == recLabelSST {
			if idx := le.Uint32(body[6:]); idx >= s.sstCount {
				return unreadable("shared string %d of %d", idx, s.sstCount)
			}
		}
		return nil
	}

	switch id {
	case recMulRK, recMulBlank:
		width := 6
		if id == recMulBlank {
			width = 2
		}
		if size < 6+width || (size-6)%width != 0 {
			return unreadable("record %#04x of %d bytes", id, size)
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return unreadable("record %#04x is truncated", id)
		}
		first, last := int(le.Uint16(body[2:])), int(le.Uint16(body[size-2:]))
		if last >= maxColumns || last != first+(size-6)/width-1 {
			return unreadable("record %#04x spans columns %d to %d", id, first, last)
		}
		return nil
	case recFormula:
		if size < 20 {
			return unreadable("formula record of %d bytes", size)
		}
		var head [4]byte
		if _, err := io.ReadFull(r, head[:]); err != nil {
			return unreadable("formula record is truncated")
		}
		if col := le.Uint16(head[2:]); col >= maxColumns {
			return unreadable("cell in column %d", col)
		}
		if skipFull(r, size-len(head)) != nil {
			return unreadable("formula record is truncated")
		}
		return nil
	case recLabel:
		if size < 8 {
			return unreadable("label record of %d bytes", size)
		}
		var head [8]byte
		if _, err := io.ReadFull(r, head[:]); err != nil {
			return unreadable("label record is truncated")
		}
		if col := le.Uint16(head[2:]); col >= maxColumns {
			return unreadable("cell in column %d", col)
		}
		s.readString(r, le.Uint16(head[6:]))
		return s.err
	case recHyperlink:
		return unreadable("hyperlink records are not supported")
	default:
		_, _ = r.Seek(int64(size), io.SeekCurrent)
		return nil
	}
}
