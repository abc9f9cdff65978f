package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func BenchmarkExpandDeepTree(b *testing.B) {
	root := b.TempDir()
	createDeepTree(b, root, 120, 6)
	benchmarkExpand(b, root)
}

func BenchmarkExpandWideTree(b *testing.B) {
	root := b.TempDir()
	createWideTree(b, root, 220, 5)
	benchmarkExpand(b, root)
}

func benchmarkExpand(b *testing.B, root string) {
	b.Helper()
	filter, err := NewPathFilter(nil, []string{"*.tmp"})
	if err != nil {
		b.Fatal(err)
	}
	w := &Walker{Filter: filter, Log: quietLogger()}
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		paths, err := w.Expand(ctx, nil, []string{root})
		if err != nil {
			b.Fatalf("expand failed: %v", err)
		}
		if len(paths) == 0 {
			b.Fatal("expected non-zero file count")
		}
	}
}

func createDeepTree(b *testing.B, root string, depth, filesPerLevel int) {
	b.Helper()
	current := root
	for d := 0; d < depth; d++ {
		current = filepath.Join(current, fmt.Sprintf("d-%03d", d))
		if err := os.MkdirAll(current, 0755); err != nil {
			b.Fatalf("mkdir: %v", err)
		}
		for f := 0; f < filesPerLevel; f++ {
			path := filepath.Join(current, fmt.Sprintf("file-%03d.txt", f))
			if err := os.WriteFile(path, []byte("benchmark"), 0644); err != nil {
				b.Fatalf("write: %v", err)
			}
		}
	}
}

func createWideTree(b *testing.B, root string, dirs, filesPerDir int) {
	b.Helper()
	for d := 0; d < dirs; d++ {
		dir := filepath.Join(root, fmt.Sprintf("w-%03d", d))
		if err := os.MkdirAll(dir, 0755); err != nil {
			b.Fatalf("mkdir: %v", err)
		}
		for f := 0; f < filesPerDir; f++ {
			path := filepath.Join(dir, fmt.Sprintf("file-%03d.txt", f))
			if err := os.WriteFile(path, []byte("benchmark"), 0644); err != nil {
				b.Fatalf("write: %v", err)
			}
		}
	}
}
