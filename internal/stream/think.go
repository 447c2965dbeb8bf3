package stream

import (
	"strings"
)

const (
	openTag  = "<think>"
	closeTag = "</think>"
)

// ThinkParser is a streaming transducer that splits an LLM token stream
// into user-visible content and thinking text bracketed by literal
// <think>…</think> tags. Tags may arrive split across chunks at any
// boundary, so the parser holds back the shortest suffix that could still
// become a tag (at most 8 characters) and only commits characters once they
// can no longer be part of one.
//
// Leading whitespace before the first visible content character is
// suppressed. A closing tag feeds one synthetic space through the content
// side so UIs can separate the thinking indicator from the reply; the
// leading-whitespace rule swallows it when the reply has not started yet.
type ThinkParser struct {
	onContent          func(string)
	onThinking         func(string)
	onThinkingComplete func()

	pending []byte
	inThink bool
	started bool

	segment strings.Builder
	segThink bool
}

func NewThinkParser(onContent, onThinking func(string), onThinkingComplete func()) *ThinkParser {
	return &ThinkParser{
		onContent:          onContent,
		onThinking:         onThinking,
		onThinkingComplete: onThinkingComplete,
	}
}

// Feed processes one chunk of the stream. Committed characters are emitted
// in order, batched per side within the chunk.
func (p *ThinkParser) Feed(chunk string) {
	for i := 0; i < len(chunk); i++ {
		p.feedByte(chunk[i])
	}
	p.flushSegment()
}

func (p *ThinkParser) feedByte(c byte) {
	p.pending = append(p.pending, c)
	p.drainPending(false)
}

// drainPending commits buffered bytes that can no longer start a tag. With
// force set, the whole buffer is committed (end of stream).
func (p *ThinkParser) drainPending(force bool) {
	for len(p.pending) > 0 {
		tag := openTag
		if p.inThink {
			tag = closeTag
		}
		s := string(p.pending)
		if s == tag {
			p.pending = p.pending[:0]
			if p.inThink {
				p.inThink = false
				p.flushSegment()
				if p.onThinkingComplete != nil {
					p.onThinkingComplete()
				}
				// Synthetic separator after a thinking block.
				p.emit(' ')
			} else {
				p.inThink = true
			}
			continue
		}
		if !force && strings.HasPrefix(tag, s) {
			return
		}
		p.emit(p.pending[0])
		p.pending = append(p.pending[:0], p.pending[1:]...)
	}
}

func (p *ThinkParser) emit(c byte) {
	if p.inThink {
		p.write(c, true)
		return
	}
	if !p.started {
		switch c {
		case ' ', '\t', '\n', '\r':
			return
		}
		p.started = true
	}
	p.write(c, false)
}

func (p *ThinkParser) write(c byte, thinking bool) {
	if p.segment.Len() > 0 && p.segThink != thinking {
		p.flushSegment()
	}
	p.segThink = thinking
	p.segment.WriteByte(c)
}

func (p *ThinkParser) flushSegment() {
	if p.segment.Len() == 0 {
		return
	}
	text := p.segment.String()
	p.segment.Reset()
	if p.segThink {
		if p.onThinking != nil {
			p.onThinking(text)
		}
	} else if p.onContent != nil {
		p.onContent(text)
	}
}

// Flush drains a dangling partial tag at end of stream. An unterminated
// buffer is committed to whichever side the parser is currently on.
func (p *ThinkParser) Flush() {
	p.drainPending(true)
	p.flushSegment()
}
