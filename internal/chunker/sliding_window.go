package chunker

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"taxrag/internal/domain"
)

// ErrInvalidWindow is returned when size and overlap cannot form a window.
var ErrInvalidWindow = errors.New("chunker: overlap must be >= 0 and < size")

// SlidingWindow splits document text into fixed-size rune windows that
// overlap by a fixed amount.
type SlidingWindow struct {
	size    int
	overlap int
}

// NewSlidingWindow validates the window parameters.
func NewSlidingWindow(size, overlap int) (*SlidingWindow, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w (size=%d overlap=%d)", ErrInvalidWindow, size, overlap)
	}
	return &SlidingWindow{size: size, overlap: overlap}, nil
}

// Size returns the maximum chunk length in runes.
func (c *SlidingWindow) Size() int { return c.size }

// Overlap returns the number of runes shared by consecutive chunks.
func (c *SlidingWindow) Overlap() int { return c.overlap }

// Chunk applies the window over the joined pages of document. Windows that
// contain only whitespace are skipped; the rest cover every rune of the text.
func (c *SlidingWindow) Chunk(document domain.Document) ([]domain.Chunk, error) {
	text := document.Text()
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	runes := []rune(text)
	pageStarts := pageOffsets(document.Pages)
	step := c.size - c.overlap

	var chunks []domain.Chunk
	idx := 0
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		window := string(runes[start:end])
		if strings.TrimSpace(window) != "" {
			chunks = append(chunks, domain.Chunk{
				ID:         document.ID + ":" + strconv.Itoa(idx),
				DocumentID: document.ID,
				Source:     document.Path,
				Page:       pageAt(pageStarts, start),
				Start:      start,
				Index:      idx,
				Text:       window,
			})
			idx++
		}
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}

// pageOffsets returns the rune offset at which each page begins in the
// newline-joined text.
func pageOffsets(pages []string) []int {
	offsets := make([]int, len(pages))
	pos := 0
	for i, p := range pages {
		offsets[i] = pos
		pos += utf8.RuneCountInString(p) + 1
	}
	return offsets
}

func pageAt(offsets []int, pos int) int {
	if len(offsets) == 0 {
		return 1
	}
	// first page whose start is beyond pos, minus one
	i := sort.Search(len(offsets), func(i int) bool { return offsets[i] > pos })
	if i == 0 {
		return 1
	}
	return i
}
