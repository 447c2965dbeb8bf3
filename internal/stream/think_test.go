package stream

import (
	"strings"
	"testing"
)

// runParser feeds input in chunks of the given size and returns the
// concatenated content, thinking, and the number of thinkingComplete
// signals.
func runParser(input string, chunkSize int) (content, thinking string, completes int) {
	var c, th strings.Builder
	p := NewThinkParser(
		func(s string) { c.WriteString(s) },
		func(s string) { th.WriteString(s) },
		func() { completes++ },
	)
	for i := 0; i < len(input); i += chunkSize {
		end := i + chunkSize
		if end > len(input) {
			end = len(input)
		}
		p.Feed(input[i:end])
	}
	p.Flush()
	return c.String(), th.String(), completes
}

func TestPlainContent(t *testing.T) {
	content, thinking, completes := runParser("hello world", 3)
	if content != "hello world" {
		t.Fatalf("content = %q", content)
	}
	if thinking != "" || completes != 0 {
		t.Fatalf("thinking = %q, completes = %d", thinking, completes)
	}
}

func TestThinkExtraction(t *testing.T) {
	content, thinking, completes := runParser("<think>pondering</think>the answer", len("<think>pondering</think>the answer"))
	if content != "the answer" {
		t.Fatalf("content = %q, want %q", content, "the answer")
	}
	if thinking != "pondering" {
		t.Fatalf("thinking = %q, want %q", thinking, "pondering")
	}
	if completes != 1 {
		t.Fatalf("completes = %d, want 1", completes)
	}
}

func TestAdversarialChunking(t *testing.T) {
	input := "  <think>let me think\nabout this</think>Paris is the capital. <think>done</think> Anything else?"
	wantThinking := "let me think\nabout this" + "done"

	var baseline string
	for _, size := range []int{1, 2, 3, 5, 7, 8, 13, len(input)} {
		content, thinking, completes := runParser(input, size)
		if strings.Contains(content, "<think>") || strings.Contains(content, "</think>") {
			t.Fatalf("size %d: tag leaked into content %q", size, content)
		}
		if thinking != wantThinking {
			t.Fatalf("size %d: thinking = %q, want %q", size, thinking, wantThinking)
		}
		if completes != 2 {
			t.Fatalf("size %d: completes = %d, want 2", size, completes)
		}
		if size == 1 {
			baseline = content
		} else if content != baseline {
			t.Fatalf("size %d: content %q differs from 1-char baseline %q", size, content, baseline)
		}
	}
}

func TestLeadingWhitespaceSuppressed(t *testing.T) {
	content, _, _ := runParser("  \n\t hello", 1)
	if content != "hello" {
		t.Fatalf("content = %q, want %q", content, "hello")
	}
}

func TestLeadingThinkThenContent(t *testing.T) {
	// The synthetic space after </think> is swallowed when nothing visible
	// has been emitted yet.
	content, thinking, _ := runParser("<think>hmm</think> hello", 1)
	if content != "hello" {
		t.Fatalf("content = %q, want %q", content, "hello")
	}
	if thinking != "hmm" {
		t.Fatalf("thinking = %q", thinking)
	}
}

func TestSyntheticSpaceAfterMidStreamThink(t *testing.T) {
	content, _, _ := runParser("before<think>x</think>after", 4)
	if content != "before after" {
		t.Fatalf("content = %q, want %q", content, "before after")
	}
}

func TestFalseTagPrefix(t *testing.T) {
	content, thinking, _ := runParser("a < b and <thin air", 1)
	if content != "a < b and <thin air" {
		t.Fatalf("content = %q", content)
	}
	if thinking != "" {
		t.Fatalf("thinking = %q", thinking)
	}
}

func TestDanglingPartialTagFlushedAsContent(t *testing.T) {
	content, _, _ := runParser("hello <thi", 1)
	if content != "hello <thi" {
		t.Fatalf("content = %q, want %q", content, "hello <thi")
	}
}

func TestUnterminatedThinkFlushedAsThinking(t *testing.T) {
	content, thinking, completes := runParser("<think>never closed", 2)
	if content != "" {
		t.Fatalf("content = %q, want empty", content)
	}
	if thinking != "never closed" {
		t.Fatalf("thinking = %q", thinking)
	}
	if completes != 0 {
		t.Fatalf("completes = %d, want 0", completes)
	}
}

func TestUTF8ContentSurvivesOneByteChunks(t *testing.T) {
	// Trailing space, synthetic space, then the literal space after the tag.
	input := "naïve <think>héllo</think> café"
	content, thinking, _ := runParser(input, 1)
	if content != "naïve   café" {
		t.Fatalf("content = %q", content)
	}
	if thinking != "héllo" {
		t.Fatalf("thinking = %q", thinking)
	}
}
