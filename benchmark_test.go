package flick

import (
	"fmt"
	"strings"
	"testing"
)

func buildListingOutput(n int) string {
	var b strings.Builder
	b.WriteString("total 4096\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "-rw-r--r-- 1 deploy deploy %d 2024-03-01 10:%02d file%04d.txt\n", i*37, i%60, i)
	}
	return b.String()
}

func BenchmarkParseListing(b *testing.B) {
	output := buildListingOutput(1000)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		entries, skipped := ParseListing(output)
		if len(entries) != 1000 || skipped != 0 {
			b.Fatalf("unexpected result: %d entries, %d skipped", len(entries), skipped)
		}
	}
}

func BenchmarkParseSCPProgress(b *testing.B) {
	line := "backup.tar.gz                47% 1234KB 650.2KB/s   00:01"
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, ok := ParseSCPProgress(line); !ok {
			b.Fatal("parse failed")
		}
	}
}

func BenchmarkSortEntries(b *testing.B) {
	base := make([]RemoteEntry, 1000)
	for i := range base {
		base[i] = RemoteEntry{
			Name:  fmt.Sprintf("file%04d", (i*7919)%1000),
			IsDir: i%5 == 0,
		}
	}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		entries := make([]RemoteEntry, len(base))
		copy(entries, base)
		sortEntries(entries)
	}
}

func BenchmarkShellQuote(b *testing.B) {
	path := "/srv/www/releases/it's a 'path' with quotes/file.txt"
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		shellQuote(path)
	}
}
