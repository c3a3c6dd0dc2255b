// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import (
	"bufio"
	"bytes"
	"errors"
	"sort"
	"strconv"
	"strings"
)

// hdrLine is the status line that opens every header block, per spec.md
// §4.3/§6: "NATS/1.0[ <code> <text>]\r\n".
const hdrLine = "NATS/1.0"

var hdrLineBytes = []byte(hdrLine)

// statusHdr and descrHdr are synthetic header keys used to surface the
// status line's code/text through the same Header map as ordinary
// name/value pairs, the way the teacher's later header.go does.
const (
	statusHdr     = "Status"
	descrHdr      = "Description"
	noResponders  = "503"
	controlStatus = "100"
)

// Header holds NATS message headers: an ordered-insensitive multimap, the
// same shape as net/http.Header, which the teacher's own service/micro
// packages already assume headers behave like.
type Header map[string][]string

// Get returns the first value associated with key, or "".
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	v := h[key]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Values returns all values associated with key.
func (h Header) Values(key string) []string {
	if h == nil {
		return nil
	}
	return h[key]
}

// Set replaces any existing values for key.
func (h Header) Set(key, value string) {
	h[key] = []string{value}
}

// Add appends value to key's existing values.
func (h Header) Add(key, value string) {
	h[key] = append(h[key], value)
}

// Del removes all values for key.
func (h Header) Del(key string) {
	delete(h, key)
}

// statusCode returns the numeric code from the status line, if any, and
// whether one was present.
func (h Header) statusCode() (int, bool) {
	s := h.Get(statusHdr)
	if s == "" {
		return 0, false
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return code, true
}

// decodeHeadersMsg parses a raw header block (status line, zero or more
// name/value lines, blank terminator) per spec.md §4.3.
func decodeHeadersMsg(data []byte) (Header, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	line, err := readHeaderLine(r)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, hdrLine) {
		return nil, errors.New("nats: malformed header status line")
	}

	h := Header{}
	rest := strings.TrimSpace(strings.TrimPrefix(line, hdrLine))
	if rest != "" {
		parts := strings.SplitN(rest, " ", 2)
		h.Set(statusHdr, parts[0])
		if len(parts) == 2 {
			h.Set(descrHdr, strings.TrimSpace(parts[1]))
		}
	}

	for {
		line, err := readHeaderLine(r)
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			return nil, errors.New("nats: malformed header line: " + line)
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		h.Add(key, val)
	}
	return h, nil
}

func readHeaderLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", errors.New("nats: malformed header block")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// encodeHeadersMsg serializes h to the wire form. Field ordering within a
// single key is preserved; key ordering is not significant at the wire
// level (spec.md §8 round-trip is defined over a canonical-ordered view),
// so keys are emitted in sorted order here purely for determinism in
// tests, not because the wire format requires it.
func encodeHeadersMsg(h Header) []byte {
	var buf bytes.Buffer
	buf.WriteString(hdrLine)
	if code := h.Get(statusHdr); code != "" {
		buf.WriteByte(' ')
		buf.WriteString(code)
		if desc := h.Get(descrHdr); desc != "" {
			buf.WriteByte(' ')
			buf.WriteString(desc)
		}
	}
	buf.WriteString(_CRLF_)

	keys := make([]string, 0, len(h))
	for k := range h {
		if k == statusHdr || k == descrHdr {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			buf.WriteString(k)
			buf.WriteString(": ")
			buf.WriteString(v)
			buf.WriteString(_CRLF_)
		}
	}
	buf.WriteString(_CRLF_)
	return buf.Bytes()
}
