package pii

import "unicode/utf8"

// runeCursor converts byte offsets into character offsets. Queries in
// ascending order cost one pass over the text in total.
type runeCursor struct {
	text    string
	bytePos int
	runePos int
}

func newRuneCursor(text string) *runeCursor {
	return &runeCursor{text: text}
}

func (c *runeCursor) offset(byteOffset int) int {
	if byteOffset < c.bytePos {
		c.bytePos, c.runePos = 0, 0
	}
	c.runePos += utf8.RuneCountInString(c.text[c.bytePos:byteOffset])
	c.bytePos = byteOffset
	return c.runePos
}
