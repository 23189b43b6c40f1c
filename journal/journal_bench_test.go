package journal

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

// BenchmarkFileJournal_Record benchmarks the journal write performance
func BenchmarkFileJournal_Record(b *testing.B) {
	path := filepath.Join(b.TempDir(), "journal.jsonl")

	j, err := Open(afero.NewOsFs(), path, true)
	if err != nil {
		b.Fatal(err)
	}
	defer j.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := j.Record(entry(uint32(i), fmt.Sprintf("hash-%d", i))); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()

	if err := j.Close(); err != nil {
		b.Fatal(err)
	}
}

// BenchmarkFileJournal_Seen benchmarks lookup performance
func BenchmarkFileJournal_Seen(b *testing.B) {
	j := NewMemoryJournal()
	for i := 0; i < 1000; i++ {
		if err := j.Record(entry(uint32(i), fmt.Sprintf("hash-%d", i))); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = j.Seen(fmt.Sprintf("hash-%d", i%1000))
	}
}

// BenchmarkFileJournal_Load benchmarks loading a journal written by an earlier run
func BenchmarkFileJournal_Load(b *testing.B) {
	fsys := afero.NewOsFs()
	path := filepath.Join(b.TempDir(), "journal.jsonl")

	j, err := Open(fsys, path, true)
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 10000; i++ {
		if err := j.Record(entry(uint32(i), fmt.Sprintf("hash-%d", i))); err != nil {
			b.Fatal(err)
		}
	}
	if err := j.Close(); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Open(fsys, path, false); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkFileJournal_WithFlush benchmarks write performance with periodic flushes
func BenchmarkFileJournal_WithFlush(b *testing.B) {
	path := filepath.Join(b.TempDir(), "journal.jsonl")

	j, err := Open(afero.NewOsFs(), path, true)
	if err != nil {
		b.Fatal(err)
	}
	defer j.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := j.Record(entry(uint32(i), fmt.Sprintf("hash-%d", i))); err != nil {
			b.Fatal(err)
		}
		if i%100 == 0 {
			if err := j.Flush(); err != nil {
				b.Fatal(err)
			}
		}
	}
	b.StopTimer()
}
