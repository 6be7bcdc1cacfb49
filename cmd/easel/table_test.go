package main

import (
	"strings"
	"testing"
)

func TestRenderTableAlignsColumns(t *testing.T) {
	out := renderTable(
		[]string{"ID", "Count"},
		[][]string{{"alpha", "3"}, {"beta", "12"}},
		[]columnAlignment{alignLeft, alignRight},
	)
	if !strings.Contains(out, "alpha") || !strings.Contains(out, "beta") {
		t.Fatalf("expected rows in output:\n%s", out)
	}
	if !strings.Contains(out, "ID") {
		t.Fatalf("expected header in output:\n%s", out)
	}
}

func TestRenderTableEmptyHeaders(t *testing.T) {
	if out := renderTable(nil, nil, nil); out != "" {
		t.Fatalf("expected empty output, got %q", out)
	}
}

func TestPositionLabel(t *testing.T) {
	cases := map[string]string{
		"hero":            "Hero",
		"section-image-1": "Section Image 1",
		"section_image_2": "Section Image 2",
		"  ":              "  ",
	}
	for input, want := range cases {
		if got := positionLabel(input); got != want {
			t.Fatalf("positionLabel(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestRenderStatusLine(t *testing.T) {
	line := renderStatusLine("Daemon", statusOK, "running (pid 42)", false)
	if !strings.Contains(line, "Daemon:") || !strings.Contains(line, "[OK] running (pid 42)") {
		t.Fatalf("unexpected status line: %q", line)
	}

	colored := renderStatusLine("Daemon", statusError, "not running", true)
	if !strings.HasPrefix(colored, ansiRed) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("expected ANSI wrapped line, got %q", colored)
	}
}
