package dataset

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Read decodes CSV text into a Dataset. The first record is the header.
//
// Every data row must have exactly as many fields as the header; a mismatch,
// a bare quote, an empty stream or a duplicate column name is reported as a
// *ParseError carrying the offending line.
func Read(r io.Reader) (*Dataset, error) {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		if _, err := br.Discard(len(utf8BOM)); err != nil {
			return nil, fmt.Errorf("skipping byte order mark: %w", err)
		}
	}

	cr := csv.NewReader(br)
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{Line: 1, Message: "empty input", Err: ErrMissingHeader}
		}
		return nil, toParseError(err)
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	ds := New(header, nil)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, toParseError(err)
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

// ReadFile reads and decodes the CSV file at path.
func ReadFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	ds, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ds, nil
}

// Write encodes ds as CSV: the header followed by every row.
// Returns the number of bytes written.
func Write(w io.Writer, ds *Dataset) (int64, error) {
	cw := &countingWriter{w: w}
	enc := csv.NewWriter(cw)
	if err := enc.Write(ds.Header); err != nil {
		return cw.n, fmt.Errorf("writing header: %w", err)
	}
	if err := enc.WriteAll(ds.Rows); err != nil {
		return cw.n, fmt.Errorf("writing rows: %w", err)
	}
	return cw.n, nil
}

// WriteFile writes ds to path atomically: the data goes to a temporary file
// in the same directory which is renamed over path once complete.
func WriteFile(path string, ds *Dataset) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	n, err := Write(tmp, ds)
	if err != nil {
		tmp.Close()
		cleanup()
		return n, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return n, fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return n, fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return n, fmt.Errorf("renaming to %s: %w", path, err)
	}
	return n, nil
}

func checkHeader(header []string) error {
	seen := make(map[string]int, len(header))
	for i, name := range header {
		if prev, ok := seen[name]; ok {
			return &ParseError{
				Line:    1,
				Column:  i + 1,
				Message: fmt.Sprintf("duplicate column name %q (first seen at column %d)", name, prev+1),
			}
		}
		seen[name] = i
	}
	return nil
}

func toParseError(err error) error {
	var csvErr *csv.ParseError
	if errors.As(err, &csvErr) {
		return &ParseError{
			Line:    csvErr.Line,
			Column:  csvErr.Column,
			Message: csvErr.Err.Error(),
			Err:     err,
		}
	}
	return &ParseError{Message: err.Error(), Err: err}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
