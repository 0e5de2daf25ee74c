package rig

import (
	"bufio"
	"io"
	"os"
	"strings"
)

const (
	tailReadBytes    = 64 * 1024
	tailMaxLineBytes = 4 * 1024
)

// tailBuffer keeps the last maxLines lines, each cut to maxLineBytes.
type tailBuffer struct {
	maxLines     int
	maxLineBytes int
	lines        []string
}

func newTailBuffer(maxLines int, maxLineBytes int) *tailBuffer {
	if maxLines < 0 {
		maxLines = 0
	}
	if maxLineBytes <= 0 {
		maxLineBytes = tailMaxLineBytes
	}
	return &tailBuffer{maxLines: maxLines, maxLineBytes: maxLineBytes, lines: make([]string, 0, maxLines)}
}

func (t *tailBuffer) add(line string) {
	if t.maxLines == 0 {
		return
	}
	if len(line) > t.maxLineBytes {
		line = line[:t.maxLineBytes]
	}
	if len(t.lines) < t.maxLines {
		t.lines = append(t.lines, line)
		return
	}
	copy(t.lines, t.lines[1:])
	t.lines[len(t.lines)-1] = line
}

func (t *tailBuffer) snapshot() []string {
	out := make([]string, 0, len(t.lines))
	return append(out, t.lines...)
}

// readTail returns the file size and its last n lines. Only the final
// tailReadBytes are read; a line cut by that window is dropped.
func readTail(path string, n int) (int64, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return 0, nil, err
	}
	size := st.Size()
	offset := int64(0)
	if size > tailReadBytes {
		offset = size - tailReadBytes
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return size, nil, err
	}

	r := bufio.NewReader(f)
	if offset > 0 {
		if _, err := r.ReadString('\n'); err != nil {
			return size, nil, nil
		}
	}

	buf := newTailBuffer(n, tailMaxLineBytes)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), tailReadBytes)
	for sc.Scan() {
		buf.add(strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return size, buf.snapshot(), err
	}
	return size, buf.snapshot(), nil
}
