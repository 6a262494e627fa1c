package ingest

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"velo/internal/contact"
)

func TestReadSniffsDelimiter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
	}{
		{name: "comma", in: "Nama,No HP,Pesan\nBudi,0812 3456 7890,\"Halo, Budi\"\n"},
		{name: "semicolon", in: "Nama;No HP;Pesan\nBudi;0812 3456 7890;Halo, Budi\n"},
		{name: "tab", in: "Nama\tNo HP\tPesan\nBudi\t0812 3456 7890\tHalo, Budi\n"},
		{name: "bom", in: "\ufeffNama,No HP,Pesan\n\nBudi,0812 3456 7890,\"Halo, Budi\"\n,,\n"},
	}
	want := []contact.Row{{"Nama": "Budi", "No HP": "0812 3456 7890", "Pesan": "Halo, Budi"}}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tbl, err := Read(strings.NewReader(tt.in), 0)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if diff := cmp.Diff([]string{"Nama", "No HP", "Pesan"}, tbl.Headers); diff != "" {
				t.Fatalf("headers (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(want, tbl.Rows); diff != "" {
				t.Fatalf("rows (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadRaggedRowsAndDuplicateHeaders(t *testing.T) {
	t.Parallel()
	tbl, err := Read(strings.NewReader("phone,phone,\n628111,628222,x\n628333\n"), ',')
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if diff := cmp.Diff([]string{"phone", "column_2", "column_3"}, tbl.Headers); diff != "" {
		t.Fatalf("headers (-want +got):\n%s", diff)
	}
	if len(tbl.Rows) != 2 || tbl.Rows[1]["phone"] != "628333" || tbl.Rows[1]["column_2"] != "" {
		t.Fatalf("rows = %v", tbl.Rows)
	}
}

func TestReadFileFormats(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := filepath.Join(dir, "contacts.tsv")
	if err := os.WriteFile(p, []byte("name\tphone\nSari\t6289637412604\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	tbl, err := ReadFile(p)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if tbl.Source != "contacts.tsv" || len(tbl.Rows) != 1 {
		t.Fatalf("table = %+v", tbl)
	}
	if _, err := ReadFile(filepath.Join(dir, "contacts.xlsx")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("xlsx err = %v", err)
	}
	empty := filepath.Join(dir, "empty.csv")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(empty); err == nil {
		t.Fatal("expected error for empty file")
	}
}

func TestDetectMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		headers []string
		want    contact.Mapping
		conf    int
	}{
		{
			headers: []string{"No", "Nama Lengkap", "Nomor WhatsApp", "Pesan Custom"},
			want:    contact.Mapping{RecipientField: "Nomor WhatsApp", NameField: "Nama Lengkap", MessageField: "Pesan Custom"},
			conf:    3,
		},
		{
			headers: []string{"Customer", "Mobile"},
			want:    contact.Mapping{RecipientField: "Mobile", NameField: "Customer"},
			conf:    2,
		},
		{
			headers: []string{"Contact Number", "Notes"},
			want:    contact.Mapping{RecipientField: "Contact Number"},
			conf:    1,
		},
		{headers: []string{"foo", "bar"}},
	}
	for _, tt := range tests {
		got, conf := DetectMapping(tt.headers)
		if diff := cmp.Diff(tt.want, got); diff != "" || conf != tt.conf {
			t.Fatalf("DetectMapping(%v) conf=%d (-want +got):\n%s", tt.headers, conf, diff)
		}
	}
}

func TestWritePreview(t *testing.T) {
	t.Parallel()
	tbl := Table{
		Headers: []string{"name", "message"},
		Rows: []contact.Row{
			{"name": "Budi", "message": "line one\nline two"},
			{"name": "Sari", "message": strings.Repeat("x", 80)},
			{"name": "Hidden", "message": "-"},
		},
	}
	var buf bytes.Buffer
	if err := WritePreview(&buf, tbl, 2); err != nil {
		t.Fatalf("WritePreview: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "line one line two") || strings.Contains(out, "Hidden") || !strings.Contains(out, "(3 rows, 2 columns)") {
		t.Fatalf("preview:\n%s", out)
	}
}
