// Package mlffile parses HTK master label files and state lists.
//
//	#!MLF!#
//	"*/utt1.lab"
//	0 200000 sil
//	200000 500000 a
//	.
//
// Times are in 100ns units and are converted to frames with the configured
// frame shift.
package mlffile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"strconv"
	"strings"
)

// Magic is the first line of every MLF.
const Magic = "#!MLF!#"

// DefaultFrameShift is 10ms in HTK time units.
const DefaultFrameShift = 100000

// ErrSyntax is returned for malformed files.
var ErrSyntax = errors.New("mlffile: syntax error")

// Entry is one labelled segment. A segment whose end time precedes its
// start has a negative NumFrames; judging it is left to the caller.
type Entry struct {
	FirstFrame int
	NumFrames  int
	Label      string
}

// Utterance is the label sequence of one utterance.
type Utterance struct {
	// Key is the base name of the label file without extension.
	Key     string
	Entries []Entry
}

// NumFrames returns the frame count covered by the entries.
func (u Utterance) NumFrames() int {
	n := 0
	for _, e := range u.Entries {
		n += e.NumFrames
	}
	return n
}

// Parse reads every utterance of an MLF. frameShift <= 0 selects
// DefaultFrameShift.
func Parse(r io.Reader, frameShift int64) ([]Utterance, error) {
	if frameShift <= 0 {
		frameShift = DefaultFrameShift
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		out    []Utterance
		cur    *Utterance
		lineNo int
		magic  bool
	)

	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		if !magic {
			if line != Magic {
				return nil, fmt.Errorf("%w: line %d: missing %s header", ErrSyntax, lineNo, Magic)
			}
			magic = true
			continue
		}

		if cur == nil {
			if !strings.HasPrefix(line, `"`) || !strings.HasSuffix(line, `"`) || len(line) < 3 {
				return nil, fmt.Errorf("%w: line %d: expected quoted label file name, got %q", ErrSyntax, lineNo, line)
			}
			cur = &Utterance{Key: keyFromName(line[1 : len(line)-1])}
			continue
		}

		if line == "." {
			out = append(out, *cur)
			cur = nil
			continue
		}

		e, err := parseEntry(line, frameShift)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrSyntax, lineNo, err)
		}
		cur.Entries = append(cur.Entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !magic {
		return nil, fmt.Errorf("%w: empty file", ErrSyntax)
	}
	if cur != nil {
		return nil, fmt.Errorf("%w: utterance %q not terminated", ErrSyntax, cur.Key)
	}
	return out, nil
}

func parseEntry(line string, frameShift int64) (Entry, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return Entry{}, fmt.Errorf("expected 'start end label', got %q", line)
	}
	start, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("start time: %v", err)
	}
	end, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("end time: %v", err)
	}
	first := int(math.Round(float64(start) / float64(frameShift)))
	last := int(math.Round(float64(end) / float64(frameShift)))
	return Entry{FirstFrame: first, NumFrames: last - first, Label: fields[2]}, nil
}

func keyFromName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(name)
	return strings.TrimSuffix(base, path.Ext(base))
}

// ParseStateList reads one label per line. The class id of a label is its
// zero-based line index among non-empty lines.
func ParseStateList(r io.Reader) (map[string]int, error) {
	sc := bufio.NewScanner(r)
	ids := make(map[string]int)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if _, dup := ids[fields[0]]; dup {
			return nil, fmt.Errorf("%w: duplicate state %q", ErrSyntax, fields[0])
		}
		ids[fields[0]] = len(ids)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Write renders utterances in MLF syntax.
func Write(w io.Writer, utts []Utterance, frameShift int64) error {
	if frameShift <= 0 {
		frameShift = DefaultFrameShift
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, Magic)
	for _, u := range utts {
		fmt.Fprintf(bw, "\"*/%s.lab\"\n", u.Key)
		for _, e := range u.Entries {
			start := int64(e.FirstFrame) * frameShift
			end := int64(e.FirstFrame+e.NumFrames) * frameShift
			fmt.Fprintf(bw, "%d %d %s\n", start, end, e.Label)
		}
		fmt.Fprintln(bw, ".")
	}
	return bw.Flush()
}
