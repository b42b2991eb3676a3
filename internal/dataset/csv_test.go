package dataset

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRead_Basic(t *testing.T) {
	input := "id,name,price\n1,flat,150\n2,\"loft, big\",99.5\n"

	ds, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := strings.Join(ds.Header, "|"); got != "id|name|price" {
		t.Errorf("header = %q, want %q", got, "id|name|price")
	}
	if ds.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", ds.Len())
	}
	if ds.Rows[1][1] != "loft, big" {
		t.Errorf("quoted field = %q, want %q", ds.Rows[1][1], "loft, big")
	}
}

func TestRead_StripsByteOrderMark(t *testing.T) {
	input := "\xEF\xBB\xBFprice,id\n10,1\n"

	ds, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ds.ColumnIndex("price"); err != nil {
		t.Errorf("expected price column after BOM, got %v", err)
	}
}

func TestRead_HeaderOnly(t *testing.T) {
	ds, err := Read(strings.NewReader("id,price\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds.Len() != 0 {
		t.Errorf("Len() = %d, want 0", ds.Len())
	}
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantLine int
		wantMsg  string
	}{
		{
			name:     "empty input",
			input:    "",
			wantLine: 1,
			wantMsg:  "empty input",
		},
		{
			name:     "wrong field count",
			input:    "id,price\n1,10\n2,20,extra\n",
			wantLine: 3,
			wantMsg:  "wrong number of fields",
		},
		{
			name:     "bare quote",
			input:    "id,price\n1,1\"0\n",
			wantLine: 2,
			wantMsg:  "bare \"",
		},
		{
			name:     "duplicate column",
			input:    "price,id,price\n1,2,3\n",
			wantLine: 1,
			wantMsg:  "duplicate column name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError, got %T: %v", err, err)
			}
			if pe.Line != tt.wantLine {
				t.Errorf("Line = %d, want %d", pe.Line, tt.wantLine)
			}
			if !strings.Contains(pe.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", pe.Error(), tt.wantMsg)
			}
		})
	}
}

func TestWrite_RoundTripPreservesText(t *testing.T) {
	input := "id,name,price\n1,\"loft, big\",150.00\n2,\"say \"\"hi\"\"\",1e2\n3,plain,\n"

	ds, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var buf bytes.Buffer
	n, err := Write(&buf, ds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.String() != input {
		t.Errorf("round trip mismatch:\n got %q\nwant %q", buf.String(), input)
	}
	if n != int64(buf.Len()) {
		t.Errorf("byte count = %d, want %d", n, buf.Len())
	}
}

func TestWriteFile_Atomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "clean_sample.csv")
	ds := New([]string{"price"}, [][]string{{"10"}, {"20"}})

	if _, err := WriteFile(path, ds); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(content) != "price\n10\n20\n" {
		t.Errorf("content = %q", string(content))
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the output file, found %d entries", len(entries))
	}
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.csv"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist in chain, got %v", err)
	}
}
