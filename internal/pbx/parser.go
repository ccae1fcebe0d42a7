package pbx

import (
	"bufio"
	"bytes"
	"io"

	json "github.com/goccy/go-json"
)

// Parser reads newline-delimited stream frames, as written by wiretap
// captures and test fixtures.
type Parser struct {
	scanner *bufio.Scanner
}

// NewParser creates a Parser that reads from the given reader.
func NewParser(r io.Reader) *Parser {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Parser{scanner: s}
}

// Capture is one recorded frame. Detail holds the entity detail looked
// up when the frame was captured, if any.
type Capture struct {
	Message
	Detail *Detail `json:"detail,omitempty"`
}

// NextCapture reads the next recorded frame. Blank, comment and malformed
// lines are skipped. Returns false at EOF.
func (p *Parser) NextCapture() (Capture, bool) {
	for p.scanner.Scan() {
		line := bytes.TrimSpace(p.scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		var c Capture
		if err := json.Unmarshal(line, &c); err != nil {
			continue
		}
		return c, true
	}
	return Capture{}, false
}

// Next reads the next frame from the stream, dropping any captured detail.
func (p *Parser) Next() (Message, bool) {
	c, ok := p.NextCapture()
	return c.Message, ok
}

// ParseAll reads all frames from the stream and returns them.
func (p *Parser) ParseAll() []Message {
	var msgs []Message
	for {
		msg, ok := p.Next()
		if !ok {
			break
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// ParseCaptures parses every recorded frame in data.
func ParseCaptures(data []byte) []Capture {
	p := NewParser(bytes.NewReader(data))
	var captures []Capture
	for {
		c, ok := p.NextCapture()
		if !ok {
			return captures
		}
		captures = append(captures, c)
	}
}

// ParseBytes is a convenience function that parses all frames from a byte slice.
func ParseBytes(data []byte) []Message {
	return NewParser(bytes.NewReader(data)).ParseAll()
}
