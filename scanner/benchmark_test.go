package scanner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"driftwatch/fuzzy"
)

var benchmarkRecordSink FileRecord

func BenchmarkFingerprint(b *testing.B) {
	path := filepath.Join(b.TempDir(), "payload.bin")
	payload := bytes.Repeat([]byte("driftwatch benchmark payload 0123456789\n"), 1<<14)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	tlsh, _ := fuzzy.Lookup(fuzzy.TLSH)

	cases := []struct {
		name string
		fp   *Fingerprinter
	}{
		{"required-stream", &Fingerprinter{Log: quietLogger(), ReadMode: ReadModeStream}},
		{"required-mmap", &Fingerprinter{Log: quietLogger(), ReadMode: ReadModeMmap}},
		{"all-algorithms", &Fingerprinter{Log: quietLogger(), Algorithms: []string{"SHA1", "BLAKE3", "XXH64"}}},
		{"with-tlsh-and-mime", &Fingerprinter{Log: quietLogger(), DetectMIME: true, Fuzzy: tlsh}},
	}
	for _, tc := range cases {
		b.Run(tc.name, func(b *testing.B) {
			b.SetBytes(int64(len(payload)))
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				rec := tc.fp.Fingerprint(ctx, path)
				if rec.IsStub() {
					b.Fatal(rec.Error)
				}
				benchmarkRecordSink = rec
			}
		})
	}
}

func BenchmarkScan(b *testing.B) {
	root := b.TempDir()
	createWideTree(b, root, 40, 25)
	ctx := context.Background()
	opts := Options{
		Directories:   []string{root},
		Walker:        &Walker{Log: quietLogger()},
		Fingerprinter: &Fingerprinter{Log: quietLogger()},
		Concurrency:   4,
		Log:           quietLogger(),
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		records, err := Scan(ctx, opts, nil)
		if err != nil {
			b.Fatal(err)
		}
		if len(records) != 1000 {
			b.Fatalf("expected 1000 records, got %d", len(records))
		}
	}
}
