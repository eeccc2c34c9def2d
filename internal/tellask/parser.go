package tellask

import (
	"fmt"
	"strings"
)

// sentinel opens every call line.
const sentinel = "!?"

type state int

const (
	stateIdle state = iota
	stateMarkdown
	stateHead
	stateBody
)

// Parser consumes model output chunk by chunk and emits a
// deterministic event sequence regardless of how the input is sliced.
// It holds back the trailing partial line until a newline arrives or
// the stream finishes, so chunk boundaries never leak into events.
type Parser struct {
	emit    func(Event)
	newID   func() string
	pending strings.Builder
	state   state
	callSeq int
	callID  string
	done    bool
}

// Option configures a Parser.
type Option func(*Parser)

// WithCallID overrides the default sequential call id generator.
func WithCallID(gen func() string) Option {
	return func(p *Parser) { p.newID = gen }
}

// NewParser creates a parser that forwards events to emit.
func NewParser(emit func(Event), opts ...Option) *Parser {
	p := &Parser{emit: emit}
	p.newID = func() string {
		p.callSeq++
		return fmt.Sprintf("call-%d", p.callSeq)
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Feed appends a chunk of model output. Complete lines are processed
// immediately; a trailing partial line is buffered.
func (p *Parser) Feed(chunk string) {
	if p.done || chunk == "" {
		return
	}
	p.pending.WriteString(chunk)
	buf := p.pending.String()
	for {
		nl := strings.IndexByte(buf, '\n')
		if nl < 0 {
			break
		}
		line := buf[:nl+1]
		buf = buf[nl+1:]
		p.line(line)
	}
	p.pending.Reset()
	p.pending.WriteString(buf)
}

// Finish flushes the buffered partial line and closes any open
// segment. The parser accepts no input afterwards.
func (p *Parser) Finish() {
	if p.done {
		return
	}
	p.done = true
	if tail := p.pending.String(); tail != "" {
		p.pending.Reset()
		p.line(tail)
	}
	switch p.state {
	case stateMarkdown:
		p.emit(Event{Kind: MarkdownFinish})
	case stateHead:
		p.emit(Event{Kind: CallHeadFinish})
		p.emit(Event{Kind: CallFinish, CallID: p.callID})
	case stateBody:
		p.emit(Event{Kind: CallBodyFinish})
		p.emit(Event{Kind: CallFinish, CallID: p.callID})
	}
	p.state = stateIdle
}

// line processes one complete line. It carries its trailing newline
// except for a final unterminated line.
func (p *Parser) line(line string) {
	if strings.HasPrefix(line, sentinel) {
		p.callLine(line)
		return
	}
	// Markdown line: close an open call first.
	switch p.state {
	case stateHead:
		p.emit(Event{Kind: CallHeadFinish})
		p.emit(Event{Kind: CallFinish, CallID: p.callID})
		p.state = stateIdle
	case stateBody:
		p.emit(Event{Kind: CallBodyFinish})
		p.emit(Event{Kind: CallFinish, CallID: p.callID})
		p.state = stateIdle
	}
	if p.state == stateIdle {
		p.emit(Event{Kind: MarkdownStart})
		p.state = stateMarkdown
	}
	p.chunk(MarkdownChunk, line)
}

func (p *Parser) callLine(line string) {
	body := line[len(sentinel):]
	switch p.state {
	case stateMarkdown:
		p.emit(Event{Kind: MarkdownFinish})
		p.state = stateIdle
		fallthrough
	case stateIdle:
		v := validateHead(line)
		p.callID = p.newID()
		p.emit(Event{Kind: CallStart, Validation: &v, CallID: p.callID})
		p.state = stateHead
		p.chunk(CallHeadChunk, body)
	case stateHead:
		if isHeadContinuation(line) {
			p.chunk(CallHeadChunk, body)
			return
		}
		p.emit(Event{Kind: CallHeadFinish})
		p.emit(Event{Kind: CallBodyStart})
		p.state = stateBody
		p.chunk(CallBodyChunk, body)
	case stateBody:
		// Body absorbs everything verbatim, "!?@" lines included.
		p.chunk(CallBodyChunk, body)
	}
}

func (p *Parser) chunk(kind Kind, text string) {
	if text == "" {
		return
	}
	p.emit(Event{Kind: kind, Text: text})
}

// isHeadContinuation reports whether a "!?" line extends the head
// region: the sentinel followed by optional blanks and a mention "@".
func isHeadContinuation(line string) bool {
	rest := line[len(sentinel):]
	i := 0
	for i < len(rest) && (rest[i] == ' ' || rest[i] == '\t') {
		i++
	}
	return i < len(rest) && rest[i] == '@'
}

// validateHead checks the first head line of a call and extracts the
// first mention.
func validateHead(line string) Validation {
	rest := strings.TrimSuffix(line[len(sentinel):], "\n")
	rest = strings.TrimSuffix(rest, "\r")
	i := 0
	for i < len(rest) && (rest[i] == ' ' || rest[i] == '\t') {
		i++
	}
	if i >= len(rest) || rest[i] != '@' {
		return Validation{Reason: ReasonMissingMentionPrefix}
	}
	i++
	for i < len(rest) && (rest[i] == ' ' || rest[i] == '\t') {
		i++
	}
	start := i
	for i < len(rest) && !isSpace(rest[i]) {
		i++
	}
	id := rest[start:i]
	if !ValidMentionID(id) {
		return Validation{Reason: ReasonInvalidMentionID}
	}
	return Validation{Valid: true, FirstMention: id}
}

// ValidMentionID reports whether id matches [A-Za-z][A-Za-z0-9_-]*.
func ValidMentionID(id string) bool {
	if id == "" {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '_' || c == '-'):
		default:
			return false
		}
	}
	return true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}
