package chunker

import (
	"errors"
	"strings"
	"testing"

	"taxrag/internal/domain"
)

func TestSlidingWindowCharacters(t *testing.T) {
	c, err := NewSlidingWindow(2, 1)
	if err != nil {
		t.Fatalf("NewSlidingWindow: %v", err)
	}
	chunks, err := c.Chunk(domain.Document{ID: "doc", Path: "a.txt", Pages: []string{"abcd"}})
	if err != nil {
		t.Fatalf("chunking failed: %v", err)
	}
	want := []string{"ab", "bc", "cd"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, ch := range chunks {
		if ch.Text != want[i] {
			t.Errorf("chunk %d text = %q, want %q", i, ch.Text, want[i])
		}
		if ch.Start != i {
			t.Errorf("chunk %d start = %d, want %d", i, ch.Start, i)
		}
		if ch.Source != "a.txt" || ch.DocumentID != "doc" {
			t.Errorf("chunk %d metadata not propagated: %+v", i, ch)
		}
	}
}

func TestSlidingWindowRejectsBadOverlap(t *testing.T) {
	cases := []struct{ size, overlap int }{
		{0, 0},
		{10, 10},
		{10, 12},
		{10, -1},
	}
	for _, tc := range cases {
		if _, err := NewSlidingWindow(tc.size, tc.overlap); !errors.Is(err, ErrInvalidWindow) {
			t.Errorf("size=%d overlap=%d: expected ErrInvalidWindow, got %v", tc.size, tc.overlap, err)
		}
	}
}

func TestSlidingWindowCoversEveryRune(t *testing.T) {
	text := strings.Repeat("Section 192 TDS on salary — ₹ deduction at source. ", 40)
	rs := []rune(text)
	doc := domain.Document{ID: "d", Pages: []string{string(rs[:500]), string(rs[500:])}}
	total := len([]rune(doc.Text()))
	for size := 1; size <= 64; size += 7 {
		for overlap := 0; overlap < size; overlap += 3 {
			c, err := NewSlidingWindow(size, overlap)
			if err != nil {
				t.Fatalf("size=%d overlap=%d: %v", size, overlap, err)
			}
			chunks, err := c.Chunk(doc)
			if err != nil {
				t.Fatal(err)
			}
			covered := make([]bool, total)
			for _, ch := range chunks {
				n := len([]rune(ch.Text))
				if n > size {
					t.Fatalf("size=%d: chunk of %d runes", size, n)
				}
				for i := ch.Start; i < ch.Start+n; i++ {
					covered[i] = true
				}
			}
			runes := []rune(doc.Text())
			for i, ok := range covered {
				if !ok && strings.TrimSpace(string(runes[i])) != "" {
					t.Fatalf("size=%d overlap=%d: rune %d not covered", size, overlap, i)
				}
			}
		}
	}
}

func TestSlidingWindowOverlapBetweenConsecutiveChunks(t *testing.T) {
	c, _ := NewSlidingWindow(10, 4)
	chunks, err := c.Chunk(domain.Document{ID: "d", Pages: []string{"abcdefghijklmnopqrstuvwxyz"}})
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1].Text)
		cur := []rune(chunks[i].Text)
		if string(prev[len(prev)-4:]) != string(cur[:4]) {
			t.Errorf("chunks %d and %d do not overlap: %q / %q", i-1, i, chunks[i-1].Text, chunks[i].Text)
		}
	}
}

func TestSlidingWindowPageNumbers(t *testing.T) {
	c, _ := NewSlidingWindow(4, 0)
	chunks, err := c.Chunk(domain.Document{ID: "d", Pages: []string{"aaaa", "bbbb"}})
	if err != nil {
		t.Fatal(err)
	}
	// "aaaa\nbbbb" -> "aaaa", "\nbbb", "b"
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0].Page != 1 || chunks[1].Page != 1 || chunks[2].Page != 2 {
		t.Errorf("unexpected pages: %d %d %d", chunks[0].Page, chunks[1].Page, chunks[2].Page)
	}
}

func TestSlidingWindowEmptyDocument(t *testing.T) {
	c, _ := NewSlidingWindow(10, 2)
	chunks, err := c.Chunk(domain.Document{ID: "d", Pages: []string{"  ", "\n"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks, got %d", len(chunks))
	}
}
