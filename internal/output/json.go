package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gpucheckpoint/internal/detector"
)

// Format selects a report rendering.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat accepts "text" or "json".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// MarshalReport encodes r as indented JSON with a trailing newline.
func MarshalReport(r detector.Report) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteJSON writes r to w as indented JSON.
func WriteJSON(w io.Writer, r detector.Report) error {
	data, err := MarshalReport(r)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Write renders r in the requested format.
func Write(w io.Writer, r detector.Report, f Format, opts TextOptions) error {
	if f == FormatJSON {
		return WriteJSON(w, r)
	}
	return WriteText(w, r, opts)
}
