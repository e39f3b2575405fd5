package archive

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-archive-etl/internal/domain"
)

type entry struct {
	name string
	body string
}

var testEntries = []entry{
	{"2019/", ""},
	{"2019/INMET_CO_DF_A001_BRASILIA.CSV", "REGIAO:;CO\n"},
	{"2019/INMET_S_RS_A801_PORTO ALEGRE.CSV", "REGIAO:;S\n"},
	{"__MACOSX/2019/._INMET_CO_DF_A001_BRASILIA.CSV", "junk"},
}

func buildZip(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeTar(t *testing.T, w io.Writer, entries []entry) {
	t.Helper()
	tw := tar.NewWriter(w)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		if e.body == "" && e.name[len(e.name)-1] == '/' {
			hdr.Typeflag = tar.TypeDir
			hdr.Size = 0
		}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
}

func collect(t *testing.T, s *Scanner) map[string]string {
	t.Helper()
	got := map[string]string{}
	want := 0
	for s.Next() {
		m := s.Member()
		assert.Equal(t, want, m.Ordinal)
		want++

		rc, err := m.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		got[m.Name] = string(data)
	}
	require.NoError(t, s.Err())
	return got
}

var wantMembers = map[string]string{
	"2019/INMET_CO_DF_A001_BRASILIA.CSV":             "REGIAO:;CO\n",
	"2019/INMET_S_RS_A801_PORTO ALEGRE.CSV":          "REGIAO:;S\n",
	"__MACOSX/2019/._INMET_CO_DF_A001_BRASILIA.CSV": "junk",
}

func TestZipScanner(t *testing.T) {
	data := buildZip(t, testEntries)
	s, err := NewZipScanner(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, FormatZip, s.Format())
	assert.Equal(t, 4, s.Len())
	assert.Equal(t, wantMembers, collect(t, s))
}

func TestTarScanners(t *testing.T) {
	t.Run("gzip", func(t *testing.T) {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		writeTar(t, gw, testEntries)
		require.NoError(t, gw.Close())

		s, err := NewTarScanner(&buf, FormatTarGzip)
		require.NoError(t, err)
		defer s.Close()
		assert.Equal(t, -1, s.Len())
		assert.Equal(t, wantMembers, collect(t, s))
	})

	t.Run("zstd", func(t *testing.T) {
		var buf bytes.Buffer
		zw, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		writeTar(t, zw, testEntries)
		require.NoError(t, zw.Close())

		s, err := NewTarScanner(&buf, FormatTarZstd)
		require.NoError(t, err)
		defer s.Close()
		assert.Equal(t, wantMembers, collect(t, s))
	})

	t.Run("oversized member", func(t *testing.T) {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		writeTar(t, gw, []entry{{"big.csv", "0123456789"}, {"small.csv", "01"}})
		require.NoError(t, gw.Close())

		s, err := NewTarScanner(&buf, FormatTarGzip, WithMaxMemberBytes(5))
		require.NoError(t, err)
		defer s.Close()

		require.True(t, s.Next())
		_, err = s.Member().Open()
		reason, ok := domain.ReasonOf(err)
		require.True(t, ok)
		assert.Equal(t, domain.ReasonMemberTooLarge, reason)

		require.True(t, s.Next())
		assert.Equal(t, "small.csv", s.Member().Name)
		assert.False(t, s.Next())
		assert.NoError(t, s.Err())
	})
}

func TestMemberOpensOnce(t *testing.T) {
	data := buildZip(t, []entry{{"a.csv", "x"}})
	s, err := NewZipScanner(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	require.True(t, s.Next())
	m := s.Member()
	rc, err := m.Open()
	require.NoError(t, err)
	rc.Close()

	_, err = m.Open()
	assert.ErrorIs(t, err, ErrAlreadyOpened)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	t.Run("zip by extension", func(t *testing.T) {
		p := filepath.Join(dir, "2019.zip")
		require.NoError(t, os.WriteFile(p, buildZip(t, testEntries), 0o600))

		s, err := Open(p)
		require.NoError(t, err)
		defer s.Close()
		assert.Len(t, collect(t, s), 3)
	})

	t.Run("zip by magic bytes", func(t *testing.T) {
		p := filepath.Join(dir, "2019.bin")
		require.NoError(t, os.WriteFile(p, buildZip(t, testEntries), 0o600))

		s, err := Open(p)
		require.NoError(t, err)
		defer s.Close()
		assert.Equal(t, FormatZip, s.Format())
	})

	t.Run("corrupted index", func(t *testing.T) {
		data := buildZip(t, testEntries)
		p := filepath.Join(dir, "broken.zip")
		require.NoError(t, os.WriteFile(p, data[:len(data)-30], 0o600))

		_, err := Open(p)
		require.Error(t, err)
		reason, ok := domain.ReasonOf(err)
		require.True(t, ok)
		assert.Equal(t, domain.ReasonArchiveCorrupt, reason)
	})

	t.Run("unknown container", func(t *testing.T) {
		p := filepath.Join(dir, "notes.txt")
		require.NoError(t, os.WriteFile(p, []byte("hello"), 0o600))

		_, err := Open(p)
		reason, _ := domain.ReasonOf(err)
		assert.Equal(t, domain.ReasonArchiveCorrupt, reason)
	})

	t.Run("broken tar stream", func(t *testing.T) {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		writeTar(t, gw, testEntries)
		require.NoError(t, gw.Close())
		p := filepath.Join(dir, "broken.tar.gz")
		require.NoError(t, os.WriteFile(p, buf.Bytes()[:buf.Len()/2], 0o600))

		s, err := Open(p)
		require.NoError(t, err)
		defer s.Close()
		for s.Next() {
		}
		reason, ok := domain.ReasonOf(s.Err())
		require.True(t, ok)
		assert.Equal(t, domain.ReasonArchiveCorrupt, reason)
	})
}
