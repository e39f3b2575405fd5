// Package archive enumerates the members of a compressed station bundle
// one at a time without extracting it to disk.
package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync/atomic"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/couchcryptid/weather-archive-etl/internal/domain"
)

// ErrAlreadyOpened is returned when a member's bytes are requested twice.
var ErrAlreadyOpened = errors.New("archive member already opened")

// Format is the container format of an archive.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatTarGzip
	FormatTarZstd
)

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTarGzip:
		return "tar.gz"
	case FormatTarZstd:
		return "tar.zst"
	}
	return "unknown"
}

// DetectFormat picks a format from the file name, falling back to the
// leading magic bytes.
func DetectFormat(name string, head []byte) Format {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGzip
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tar.zstd"):
		return FormatTarZstd
	}
	switch {
	case bytes.HasPrefix(head, []byte("PK\x03\x04")), bytes.HasPrefix(head, []byte("PK\x05\x06")):
		return FormatZip
	case bytes.HasPrefix(head, []byte{0x1f, 0x8b}):
		return FormatTarGzip
	case bytes.HasPrefix(head, []byte{0x28, 0xb5, 0x2f, 0xfd}):
		return FormatTarZstd
	}
	return FormatUnknown
}

// Member is one file inside an archive. Its bytes can be opened once.
type Member struct {
	Ordinal int
	Name    string
	Size    int64

	open   func() (io.ReadCloser, error)
	opened atomic.Bool
}

// NewMember builds a member from an opener. Used by tests and by sources
// that do not come from a container.
func NewMember(ordinal int, name string, size int64, open func() (io.ReadCloser, error)) *Member {
	return &Member{Ordinal: ordinal, Name: name, Size: size, open: open}
}

// Open returns the member's decompressed bytes. A second call fails with ErrAlreadyOpened.
func (m *Member) Open() (io.ReadCloser, error) {
	if m.opened.Swap(true) {
		return nil, ErrAlreadyOpened
	}
	return m.open()
}

// Base returns the member's file name without directories.
func (m *Member) Base() string {
	return path.Base(m.Name)
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithMaxMemberBytes bounds how much of a streamed member is buffered.
// Larger members are still yielded but fail to open with ReasonMemberTooLarge.
func WithMaxMemberBytes(n int64) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.maxMember = n
		}
	}
}

const defaultMaxMemberBytes = 256 << 20

// Scanner yields archive members lazily in container order.
type Scanner struct {
	format    Format
	maxMember int64

	zipFiles []*zip.File
	zipPos   int

	tr *tar.Reader

	closers []io.Closer
	ordinal int
	cur     *Member
	err     error
}

// Open opens the archive at path. An unreadable container fails with ReasonArchiveCorrupt.
func Open(name string, opts ...Option) (*Scanner, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", name, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat archive %s: %w", name, err)
	}

	head := make([]byte, 4)
	n, _ := f.ReadAt(head, 0)
	format := DetectFormat(name, head[:n])

	var s *Scanner
	switch format {
	case FormatZip:
		s, err = NewZipScanner(f, st.Size(), opts...)
	case FormatTarGzip, FormatTarZstd:
		s, err = NewTarScanner(f, format, opts...)
	default:
		err = fmt.Errorf("archive %s: unrecognized container: %w", name, domain.ReasonArchiveCorrupt)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	s.closers = append(s.closers, f)
	return s, nil
}

// NewZipScanner reads the central directory of a zip held in r.
func NewZipScanner(r io.ReaderAt, size int64, opts ...Option) (*Scanner, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("read zip index: %v: %w", err, domain.ReasonArchiveCorrupt)
	}
	s := newScanner(FormatZip, opts)
	s.zipFiles = zr.File
	return s, nil
}

// NewTarScanner streams a compressed tar from r.
func NewTarScanner(r io.Reader, format Format, opts ...Option) (*Scanner, error) {
	s := newScanner(format, opts)
	switch format {
	case FormatTarGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("read gzip header: %v: %w", err, domain.ReasonArchiveCorrupt)
		}
		s.closers = append(s.closers, gz)
		s.tr = tar.NewReader(gz)
	case FormatTarZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("read zstd header: %v: %w", err, domain.ReasonArchiveCorrupt)
		}
		s.closers = append(s.closers, closerFunc(func() error { zr.Close(); return nil }))
		s.tr = tar.NewReader(zr)
	default:
		return nil, fmt.Errorf("tar scanner for %s: %w", format, domain.ReasonArchiveCorrupt)
	}
	return s, nil
}

func newScanner(format Format, opts []Option) *Scanner {
	s := &Scanner{format: format, maxMember: defaultMaxMemberBytes}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Format returns the container format.
func (s *Scanner) Format() Format { return s.format }

// Len returns the number of entries in the index, or -1 for streamed formats.
// Directory entries are included in the count.
func (s *Scanner) Len() int {
	if s.format == FormatZip {
		return len(s.zipFiles)
	}
	return -1
}

// Next advances to the next file member. It returns false at the end of
// the archive or on a container error, which Err then reports.
func (s *Scanner) Next() bool {
	if s.err != nil {
		return false
	}
	if s.format == FormatZip {
		return s.nextZip()
	}
	return s.nextTar()
}

func (s *Scanner) nextZip() bool {
	for s.zipPos < len(s.zipFiles) {
		f := s.zipFiles[s.zipPos]
		s.zipPos++
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		s.cur = NewMember(s.ordinal, f.Name, int64(f.UncompressedSize64), f.Open)
		s.ordinal++
		return true
	}
	return false
}

func (s *Scanner) nextTar() bool {
	for {
		hdr, err := s.tr.Next()
		if errors.Is(err, io.EOF) {
			return false
		}
		if err != nil {
			s.err = fmt.Errorf("read tar entry %d: %v: %w", s.ordinal, err, domain.ReasonArchiveCorrupt)
			return false
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name, size := hdr.Name, hdr.Size
		if size > s.maxMember {
			s.cur = NewMember(s.ordinal, name, size, func() (io.ReadCloser, error) {
				return nil, fmt.Errorf("%s is %d bytes: %w", name, size, domain.ReasonMemberTooLarge)
			})
			s.ordinal++
			return true
		}

		// The stream moves on at the next call, so the member is buffered now.
		data, err := io.ReadAll(s.tr)
		if err != nil {
			s.err = fmt.Errorf("read tar member %s: %v: %w", name, err, domain.ReasonArchiveCorrupt)
			return false
		}
		s.cur = NewMember(s.ordinal, name, size, func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		})
		s.ordinal++
		return true
	}
}

// Member returns the member produced by the last successful Next.
func (s *Scanner) Member() *Member { return s.cur }

// Err returns the container error that stopped enumeration, if any.
func (s *Scanner) Err() error { return s.err }

// Close releases the underlying file and decompressors.
func (s *Scanner) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
