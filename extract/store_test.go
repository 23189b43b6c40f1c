package extract

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

var day = time.Date(2012, 12, 21, 9, 30, 0, 0, time.UTC)

func TestSaveResolvesCollisions(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store, err := New(fsys, Options{Dir: "/out"}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	want := []string{
		"2012-12-21 - report.pdf",
		"2012-12-21 (01) - report.pdf",
		"2012-12-21 (02) - report.pdf",
	}
	for i, name := range want {
		file, err := store.Save(day, "report.pdf", []byte{byte(i)})
		if err != nil {
			t.Fatalf("Save() #%d error = %v", i, err)
		}
		if file.Name != name {
			t.Errorf("Save() #%d name = %q, want %q", i, file.Name, name)
		}
		if file.Path != filepath.Join("/out", name) || file.Size != 1 {
			t.Errorf("Save() #%d = %+v", i, file)
		}
		data, err := afero.ReadFile(fsys, file.Path)
		if err != nil || len(data) != 1 || data[0] != byte(i) {
			t.Errorf("file %s content = %v, %v", file.Path, data, err)
		}
	}
}

func TestSaveSkipsExistingFiles(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/out/2012-12-21 - a.txt", []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := New(fsys, Options{Dir: "/out"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	file, err := store.Save(day, "a.txt", []byte("new"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if file.Name != "2012-12-21 (01) - a.txt" {
		t.Errorf("name = %q", file.Name)
	}
	old, _ := afero.ReadFile(fsys, "/out/2012-12-21 - a.txt")
	if string(old) != "old" {
		t.Errorf("existing file overwritten: %q", old)
	}
}

func TestSaveDryRunReservesNames(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store, err := New(fsys, Options{Dir: "/out", DryRun: true}, nil)
	if err != nil {
		t.Fatal(err)
	}

	first, err := store.Save(day, "a.txt", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.Save(day, "a.txt", []byte("y"))
	if err != nil {
		t.Fatal(err)
	}
	if first.Name != "2012-12-21 - a.txt" || second.Name != "2012-12-21 (01) - a.txt" {
		t.Errorf("dry run names = %q, %q", first.Name, second.Name)
	}
	if exists, _ := afero.DirExists(fsys, "/out"); exists {
		t.Errorf("dry run created the extraction directory")
	}
}

func TestSaveHashesContent(t *testing.T) {
	store, err := New(afero.NewMemMapFs(), Options{Dir: "/out"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	file, err := store.Save(day, "abc", []byte("abc"))
	if err != nil {
		t.Fatal(err)
	}
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if file.SHA256 != want {
		t.Errorf("SHA256 = %s, want %s", file.SHA256, want)
	}
}

func TestNewRejectsEmptyDir(t *testing.T) {
	if _, err := New(afero.NewMemMapFs(), Options{Dir: "  "}, nil); !errors.Is(err, ErrDirEmpty) {
		t.Errorf("New() error = %v, want ErrDirEmpty", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"report.pdf":       "report.pdf",
		"../../etc/passwd": ".._.._etc_passwd",
		`C:\temp\a.doc`:    "C:_temp_a.doc",
		" spaced\t.txt ":   "spaced.txt",
		"..":               "_..",
		"":                 "_",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
