//go:build linux

package procscan

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"sort"

	"golang.org/x/sys/unix"
)

const (
	readBufferSize   = 64 * 1024
	ctxCheckInterval = 256
	snippetLen       = 120
)

// scanMappings parses a mapping table in one pass. Every raw byte read is fed
// to h, including the bytes of skipped lines.
func scanMappings(ctx context.Context, r io.Reader, h hash.Hash) ([]MemoryMapping, []ParseWarning, error) {
	br := bufio.NewReaderSize(r, readBufferSize)
	mappings := make([]MemoryMapping, 0, 256)
	var (
		warnings []ParseWarning
		lineNo   int
		unsorted bool
	)

	for {
		line, err := br.ReadSlice('\n')
		if len(line) == 0 && err == io.EOF {
			break
		}
		if err != nil && err != io.EOF && !errors.Is(err, bufio.ErrBufferFull) {
			return nil, nil, err
		}
		lineNo++
		h.Write(line)

		if lineNo%ctxCheckInterval == 0 {
			if cerr := ctx.Err(); cerr != nil {
				return nil, nil, cerr
			}
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			warnings = append(warnings, ParseWarning{Line: lineNo, Reason: "line exceeds read buffer", Text: snippet(line)})
			if derr := drainLine(br, h); derr != nil {
				if derr == io.EOF {
					break
				}
				return nil, nil, derr
			}
			continue
		}

		m, reason := parseMapsLine(bytes.TrimRight(line, "\r\n"))
		if reason != "" {
			warnings = append(warnings, ParseWarning{Line: lineNo, Reason: reason, Text: snippet(line)})
		} else if n := len(mappings); n > 0 && m.Start < mappings[n-1].End {
			if m.End > mappings[n-1].Start {
				warnings = append(warnings, ParseWarning{
					Line:   lineNo,
					Reason: fmt.Sprintf("overlaps mapping at %#x", mappings[n-1].Start),
					Text:   snippet(line),
				})
			} else {
				unsorted = true
				mappings = append(mappings, m)
			}
		} else {
			mappings = append(mappings, m)
		}

		if err == io.EOF {
			break
		}
	}

	if unsorted {
		sort.SliceStable(mappings, func(i, j int) bool { return mappings[i].Start < mappings[j].Start })
		kept := mappings[:1]
		for _, m := range mappings[1:] {
			prev := kept[len(kept)-1]
			if m.Start < prev.End {
				warnings = append(warnings, ParseWarning{
					Reason: fmt.Sprintf("overlaps mapping at %#x", prev.Start),
					Text:   fmt.Sprintf("%x-%x %s", m.Start, m.End, m.Path),
				})
				continue
			}
			kept = append(kept, m)
		}
		mappings = kept
	}

	return mappings, warnings, nil
}

// drainLine discards the remainder of an overlong line.
func drainLine(br *bufio.Reader, h hash.Hash) error {
	for {
		rest, err := br.ReadSlice('\n')
		h.Write(rest)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return err
	}
}

func snippet(line []byte) string {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) > snippetLen {
		return string(line[:snippetLen]) + "..."
	}
	return string(line)
}

// parseMapsLine parses
//
//	start-end perms offset maj:min inode [path]
//
// and returns a non-empty reason when the line is malformed.
func parseMapsLine(b []byte) (MemoryMapping, string) {
	var m MemoryMapping

	field, rest := nextField(b)
	if len(field) == 0 {
		return m, "empty line"
	}
	dash := bytes.IndexByte(field, '-')
	if dash <= 0 {
		return m, "malformed address range"
	}
	start, ok1 := parseHex(field[:dash])
	end, ok2 := parseHex(field[dash+1:])
	if !ok1 || !ok2 {
		return m, "malformed address range"
	}
	if end <= start {
		return m, "empty or inverted address range"
	}
	m.Start, m.End = start, end

	field, rest = nextField(rest)
	perms, ok := parsePerms(field)
	if !ok {
		return m, "malformed permissions"
	}
	m.Perms = perms

	field, rest = nextField(rest)
	if m.Offset, ok = parseHex(field); !ok {
		return m, "malformed offset"
	}

	field, rest = nextField(rest)
	colon := bytes.IndexByte(field, ':')
	if colon <= 0 {
		return m, "malformed device"
	}
	major, ok1 := parseHex(field[:colon])
	minor, ok2 := parseHex(field[colon+1:])
	if !ok1 || !ok2 || major > 0xffffffff || minor > 0xffffffff {
		return m, "malformed device"
	}
	m.Dev = unix.Mkdev(uint32(major), uint32(minor))

	field, rest = nextField(rest)
	if m.Inode, ok = parseDec(field); !ok {
		return m, "malformed inode"
	}

	m.Path = string(bytes.TrimLeft(rest, " \t"))
	return m, ""
}

// nextField returns the next space-delimited field and the remainder,
// starting at the delimiter.
func nextField(b []byte) ([]byte, []byte) {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t') {
		i++
	}
	j := i
	for j < len(b) && b[j] != ' ' && b[j] != '\t' {
		j++
	}
	return b[i:j], b[j:]
}

func parsePerms(b []byte) (Permissions, bool) {
	var p Permissions
	if len(b) != 4 {
		return p, false
	}
	switch b[0] {
	case 'r':
		p.Read = true
	case '-':
	default:
		return p, false
	}
	switch b[1] {
	case 'w':
		p.Write = true
	case '-':
	default:
		return p, false
	}
	switch b[2] {
	case 'x':
		p.Execute = true
	case '-':
	default:
		return p, false
	}
	switch b[3] {
	case 's':
		p.Shared = true
	case 'p':
		p.Private = true
	case '-':
	default:
		return p, false
	}
	return p, true
}

func parseHex(b []byte) (uint64, bool) {
	if len(b) == 0 || len(b) > 16 {
		return 0, false
	}
	var v uint64
	for _, c := range b {
		var d byte
		switch {
		case c >= '0' && c <= '9':
			d = c - '0'
		case c >= 'a' && c <= 'f':
			d = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			d = c - 'A' + 10
		default:
			return 0, false
		}
		v = v<<4 | uint64(d)
	}
	return v, true
}

func parseDec(b []byte) (uint64, bool) {
	if len(b) == 0 || len(b) > 20 {
		return 0, false
	}
	var v uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		d := uint64(c - '0')
		if v > (^uint64(0)-d)/10 {
			return 0, false
		}
		v = v*10 + d
	}
	return v, true
}
