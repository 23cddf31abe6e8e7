package flick

import (
	"strings"
	"testing"
)

func FuzzParseListing(f *testing.F) {
	f.Add("total 8\n-rw-r--r-- 1 u g 100 2024-01-01 00:00 file.txt\n")
	f.Add("drwxr-xr-x 2 u g 4096 2024-03-01 10:15 dir\n")
	f.Add("lrwxrwxrwx 1 u g 11 2024-03-01 10:17 link -> target\n")
	f.Add("garbage\n\n\r\n")
	f.Add("-rw-r--r-- 1 u g 9999999999999 2024-01-01 00:00 big")

	f.Fuzz(func(t *testing.T, output string) {
		entries, skipped := ParseListing(output)

		if skipped < 0 {
			t.Fatalf("negative skip count %d", skipped)
		}
		lines := strings.Count(output, "\n") + 1
		if len(entries)+skipped > lines {
			t.Fatalf("entries(%d) + skipped(%d) exceeds line count %d", len(entries), skipped, lines)
		}
		for _, e := range entries {
			if e.Name == "" {
				t.Fatal("entry with empty name")
			}
			if e.Name == "." || e.Name == ".." {
				t.Fatalf("dot entry leaked: %+v", e)
			}
			if e.Size < 0 {
				t.Fatalf("negative size: %+v", e)
			}
		}
	})
}

func FuzzParseSCPProgress(f *testing.F) {
	f.Add("file.txt 47% 1234KB 650.2KB/s 00:01")
	f.Add("f 100% 5120 5.0MB/s 00:00")
	f.Add("")
	f.Add("%")
	f.Add("file 101% 1KB")
	f.Add("9999999999% x")

	f.Fuzz(func(t *testing.T, line string) {
		sample, ok := ParseSCPProgress(line)
		if !ok {
			return
		}
		if sample.Percent < 0 || sample.Percent > 100 {
			t.Fatalf("percent %d out of range for line %q", sample.Percent, line)
		}
		if sample.Bytes < 0 && sample.Bytes != BytesUnknown {
			t.Fatalf("negative byte count %d for line %q", sample.Bytes, line)
		}
	})
}

func FuzzShellQuote(f *testing.F) {
	f.Add("plain")
	f.Add("with space")
	f.Add("don't")
	f.Add("$(rm -rf /)")
	f.Add("")
	f.Add("'")
	f.Add("''\"''")

	f.Fuzz(func(t *testing.T, input string) {
		quoted := shellQuote(input)

		if quoted == "" {
			t.Fatal("quoting produced an empty string")
		}
		if quoted[0] != '\'' || quoted[len(quoted)-1] != '\'' {
			t.Fatalf("quoted form %q not single-quote delimited", quoted)
		}

		// Inverting the quoting must reproduce the input exactly.
		inner := quoted[1 : len(quoted)-1]
		roundTrip := strings.ReplaceAll(inner, `'"'"'`, "'")
		if roundTrip != input {
			t.Fatalf("round trip mismatch: %q -> %q -> %q", input, quoted, roundTrip)
		}
	})
}

func FuzzNormalizeRemotePath(f *testing.F) {
	f.Add("/a/b/")
	f.Add("")
	f.Add(`\windows\style`)
	f.Add("////")

	f.Fuzz(func(t *testing.T, path string) {
		got := normalizeRemotePath(path)

		if got == "" {
			t.Fatal("normalized path is empty")
		}
		if len(got) > 1 && strings.HasSuffix(got, "/") {
			t.Fatalf("trailing slash survived: %q -> %q", path, got)
		}
		if strings.Contains(got, "\\") {
			t.Fatalf("backslash survived: %q -> %q", path, got)
		}
		// Normalization is idempotent.
		if again := normalizeRemotePath(got); again != got {
			t.Fatalf("not idempotent: %q -> %q -> %q", path, got, again)
		}
	})
}
