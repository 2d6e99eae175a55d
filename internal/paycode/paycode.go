// Package paycode renders the placeholder scannable payment code. It is a
// deterministic pure function from a string to a small bitmap and carries no
// cryptographic property whatsoever; determinism here is a display concern,
// not a security one. It lives outside the authorization core on purpose.
package paycode

import "strings"

// GridSize is the fixed edge length of the generated pattern.
const GridSize = 7

// Bitmap is a square cell grid; true cells are drawn in the foreground color.
type Bitmap struct {
	Size  int
	cells []bool
}

// At reports whether the cell at (col, row) is filled. Out-of-range
// coordinates are empty.
func (b Bitmap) At(col, row int) bool {
	if col < 0 || row < 0 || col >= b.Size || row >= b.Size {
		return false
	}
	return b.cells[row*b.Size+col]
}

// Rows flattens the bitmap into row-major boolean slices for rendering.
func (b Bitmap) Rows() [][]bool {
	rows := make([][]bool, b.Size)
	for r := 0; r < b.Size; r++ {
		rows[r] = append([]bool(nil), b.cells[r*b.Size:(r+1)*b.Size]...)
	}
	return rows
}

// String renders the bitmap as text, two characters per cell, for terminals.
func (b Bitmap) String() string {
	var sb strings.Builder
	for r := 0; r < b.Size; r++ {
		for c := 0; c < b.Size; c++ {
			if b.At(c, r) {
				sb.WriteString("##")
			} else {
				sb.WriteString("  ")
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Generate produces the pattern for a value. Three 2x2 finder squares occupy
// the top-left, top-right and bottom-left corners; the remaining cells derive
// from the value's bytes.
func Generate(value string) Bitmap {
	b := Bitmap{Size: GridSize, cells: make([]bool, GridSize*GridSize)}
	for row := 0; row < GridSize; row++ {
		for col := 0; col < GridSize; col++ {
			b.cells[row*GridSize+col] = filled(value, row, col)
		}
	}
	return b
}

func filled(value string, row, col int) bool {
	switch {
	case row < 2 && col < 2:
		return true
	case row < 2 && col >= GridSize-2:
		return true
	case row >= GridSize-2 && col < 2:
		return true
	}
	if len(value) == 0 {
		return false
	}
	code := value[(row*GridSize+col)%len(value)]
	return code%3 == 0
}
