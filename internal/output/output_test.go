package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_Status(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewPlain(buf)

	w.Status("🔍", "Scanning /mnt/data...")

	out := buf.String()
	assert.Contains(t, out, "🔍")
	assert.Contains(t, out, "Scanning /mnt/data...")
}

func TestWriter_StatusWithoutIconIndents(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewPlain(buf)

	w.Status("", "still going")

	assert.True(t, strings.HasPrefix(buf.String(), "   "))
}

func TestWriter_MessageKinds(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewPlain(buf)

	w.Successf("indexed %d files", 1200)
	w.Warningf("%d paths skipped", 3)
	w.Errorf("drive %s unavailable", "/mnt/gone")

	out := buf.String()
	assert.Contains(t, out, "✅")
	assert.Contains(t, out, "indexed 1200 files")
	assert.Contains(t, out, "⚠️")
	assert.Contains(t, out, "3 paths skipped")
	assert.Contains(t, out, "❌")
	assert.Contains(t, out, "drive /mnt/gone unavailable")
}

func TestWriter_PlainHasNoEscapeCodes(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewPlain(buf)

	w.Success("done")
	w.Warning("careful")
	w.Error("broken")
	w.Dim("detail")

	assert.NotContains(t, buf.String(), "\033[", "plain writer must not emit ANSI escape codes")
}

func TestWriter_ColoredWrapsMessages(t *testing.T) {
	buf := &bytes.Buffer{}
	w := &Writer{out: buf, useColor: true}

	w.Success("done")

	out := buf.String()
	assert.Contains(t, out, ansiGreen)
	assert.Contains(t, out, ansiReset)
}

func TestWriter_BufferIsNotATerminal(t *testing.T) {
	w := New(&bytes.Buffer{})
	assert.False(t, w.Colored())
}

func TestWriter_Lines(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewPlain(buf)

	w.Line("first")
	w.Linef("count=%d", 2)
	w.Newline()

	assert.Equal(t, "first\ncount=2\n\n", buf.String())
}

func TestWriter_Progress(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewPlain(buf)

	w.Progress(15, 30, "halfway")

	out := buf.String()
	assert.Contains(t, out, "50%")
	assert.Contains(t, out, "halfway")
	assert.NotContains(t, out, "\n", "incomplete progress stays on one line")

	w.Progress(30, 30, "done")
	assert.Contains(t, buf.String(), "\n", "completion ends the line")
}

func TestWriter_ProgressIgnoresZeroTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewPlain(buf)

	w.Progress(5, 0, "nothing to do")

	assert.Empty(t, buf.String())
}

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		name    string
		current int
		total   int
		filled  int
	}{
		{"empty", 0, 10, 0},
		{"half", 5, 10, 15},
		{"full", 10, 10, 30},
		{"overshoot clamps", 15, 10, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := renderProgressBar(tt.current, tt.total, 30)
			assert.Equal(t, tt.filled, strings.Count(bar, "█"))
			assert.Equal(t, 30-tt.filled, strings.Count(bar, "░"))
		})
	}
}

func TestIsTTY(t *testing.T) {
	assert.False(t, IsTTY(nil))
	assert.False(t, IsTTY(&bytes.Buffer{}))
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}

func TestDetectCI(t *testing.T) {
	t.Setenv("CI", "true")
	assert.True(t, DetectCI())
}
