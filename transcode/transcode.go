// Package transcode converts text between the narrow (multi-byte, code page
// dependent) and wide (UTF-16) encodings used by security packages.
//
// A nil Narrow or Wide value is the null string. Conversions map null to
// null and never report an error for it. Every value returned by this
// package is owned by the caller; Release and ReleaseWide are the matching
// free primitives and zero the memory so secrets do not linger.
package transcode

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Narrow is a string in the codec's narrow encoding, without terminator.
type Narrow []byte

// Wide is a string of UTF-16 code units, without terminator.
type Wide []uint16

// ErrConversion is matched by every conversion failure.
var ErrConversion = errors.New("transcode: conversion failed")

// ConversionError describes a failed conversion.
type ConversionError struct {
	// Op is "to wide" or "to narrow".
	Op string

	// Encoding is the narrow encoding name.
	Encoding string

	Err error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("transcode %s (%s): %v", e.Op, e.Encoding, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Is reports ErrConversion as a match.
func (e *ConversionError) Is(target error) bool { return target == ErrConversion }

// DefaultEncoding is the narrow encoding used when none is configured.
const DefaultEncoding = "utf-8"

// Codec converts between one narrow encoding and UTF-16.
// A Codec is immutable and safe for concurrent use.
type Codec struct {
	name string
	enc  encoding.Encoding
	utf8 bool
}

// NewCodec returns a codec for the named narrow encoding. Names are
// resolved with the WHATWG index, so "utf-8", "windows-1252", "latin1",
// "shift_jis" and their aliases are accepted.
func NewCodec(name string) (*Codec, error) {
	if name == "" {
		name = DefaultEncoding
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("resolve narrow encoding %q: %w", name, err)
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = strings.ToLower(name)
	}
	return &Codec{
		name: canonical,
		enc:  enc,
		utf8: canonical == "utf-8",
	}, nil
}

var defaultCodec = &Codec{name: DefaultEncoding, utf8: true}

// Default returns the UTF-8 codec.
func Default() *Codec { return defaultCodec }

// Name returns the canonical narrow encoding name.
func (c *Codec) Name() string { return c.name }

// ToWide converts a narrow string to UTF-16.
func (c *Codec) ToWide(n Narrow) (Wide, error) {
	if n == nil {
		return nil, nil
	}
	s, err := c.decode(n)
	if err != nil {
		return nil, &ConversionError{Op: "to wide", Encoding: c.name, Err: err}
	}
	return Wide(utf16.Encode([]rune(s))), nil
}

// ToNarrow converts a UTF-16 string to the narrow encoding.
func (c *Codec) ToNarrow(w Wide) (Narrow, error) {
	if w == nil {
		return nil, nil
	}
	if err := checkSurrogates(w); err != nil {
		return nil, &ConversionError{Op: "to narrow", Encoding: c.name, Err: err}
	}
	n, err := c.encode(string(utf16.Decode(w)))
	if err != nil {
		return nil, &ConversionError{Op: "to narrow", Encoding: c.name, Err: err}
	}
	return n, nil
}

// NarrowString encodes a Go string in the narrow encoding.
func (c *Codec) NarrowString(s string) (Narrow, error) {
	if !utf8.ValidString(s) {
		return nil, &ConversionError{Op: "to narrow", Encoding: c.name, Err: errors.New("invalid UTF-8 input")}
	}
	n, err := c.encode(s)
	if err != nil {
		return nil, &ConversionError{Op: "to narrow", Encoding: c.name, Err: err}
	}
	return n, nil
}

// DecodeNarrow returns the Go string for a narrow value.
func (c *Codec) DecodeNarrow(n Narrow) (string, error) {
	s, err := c.decode(n)
	if err != nil {
		return "", &ConversionError{Op: "to wide", Encoding: c.name, Err: err}
	}
	return s, nil
}

func (c *Codec) decode(n Narrow) (string, error) {
	if c.utf8 {
		if !utf8.Valid(n) {
			return "", errors.New("invalid UTF-8 sequence")
		}
		return string(n), nil
	}
	out, err := c.enc.NewDecoder().Bytes(n)
	if err != nil {
		return "", err
	}
	// Single-byte charsets decode unmapped bytes to U+FFFD instead of failing.
	if i := strings.IndexRune(string(out), utf8.RuneError); i >= 0 {
		return "", fmt.Errorf("byte sequence at output offset %d has no mapping", i)
	}
	return string(out), nil
}

func (c *Codec) encode(s string) (Narrow, error) {
	if c.utf8 {
		return Narrow(s), nil
	}
	out, err := c.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, err
	}
	return Narrow(out), nil
}

func checkSurrogates(w Wide) error {
	for i := 0; i < len(w); i++ {
		u := rune(w[i])
		switch {
		case u >= 0xD800 && u < 0xDC00:
			if i+1 >= len(w) || w[i+1] < 0xDC00 || w[i+1] >= 0xE000 {
				return fmt.Errorf("unpaired high surrogate at index %d", i)
			}
			i++
		case u >= 0xDC00 && u < 0xE000:
			return fmt.Errorf("unpaired low surrogate at index %d", i)
		}
	}
	return nil
}

// WideString encodes a Go string as UTF-16.
func WideString(s string) Wide {
	return Wide(utf16.Encode([]rune(s)))
}

// String decodes w. Unpaired surrogates become U+FFFD.
func (w Wide) String() string {
	return string(utf16.Decode(w))
}

// Release zeroes a narrow value handed out by this package.
func Release(n Narrow) { clear(n) }

// ReleaseWide zeroes a wide value handed out by this package.
func ReleaseWide(w Wide) { clear(w) }

// DecodeWide returns the Go string for a wide value. Unpaired surrogates
// are rejected.
func DecodeWide(w Wide) (string, error) {
	if err := checkSurrogates(w); err != nil {
		return "", &ConversionError{Op: "decode wide", Encoding: "utf-16", Err: err}
	}
	return w.String(), nil
}
