// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package qrcode

// layoutFunctionPatterns draws the finder patterns, separators, timing
// patterns, alignment patterns, and the fixed dark module, marking every
// touched cell reserved so data placement skips over them.
func layoutFunctionPatterns(m [][]module, v versionSpec) {
	size := len(m)

	drawFinder := func(row, col int) {
		for dy := -1; dy <= 7; dy++ {
			for dx := -1; dx <= 7; dx++ {
				r, c := row+dy, col+dx
				if r < 0 || r >= size || c < 0 || c >= size {
					continue
				}
				set := dy >= 0 && dy <= 6 && dx >= 0 && dx <= 6 &&
					(dy == 0 || dy == 6 || dx == 0 || dx == 6 || (dy >= 2 && dy <= 4 && dx >= 2 && dx <= 4))
				m[r][c] = module{set: set, reserved: true}
			}
		}
	}
	drawFinder(0, 0)
	drawFinder(0, size-7)
	drawFinder(size-7, 0)

	// Timing patterns.
	for i := 8; i < size-8; i++ {
		m[6][i] = module{set: i%2 == 0, reserved: true}
		m[i][6] = module{set: i%2 == 0, reserved: true}
	}

	// Alignment patterns at every (row,col) combination of the spec's
	// centers, skipping ones that would overlap a finder pattern.
	for _, row := range v.alignment {
		for _, col := range v.alignment {
			if overlapsFinder(row, col, size) {
				continue
			}
			drawAlignment(m, row, col)
		}
	}

	// Dark module, fixed at (4*version+9, 8).
	m[4*v.number+9][8] = module{set: true, reserved: true}

	// Reserve (but don't set) the format-info strips and, for v>=7, the
	// version-info blocks; actual bits are written later once the mask is
	// chosen.
	for i := 0; i < 9; i++ {
		m[8][i] = module{reserved: true}
		m[i][8] = module{reserved: true}
	}
	for i := 0; i < 8; i++ {
		m[8][size-1-i] = module{reserved: true}
		m[size-1-i][8] = module{reserved: true}
	}
	if v.number >= 7 {
		for r := 0; r < 6; r++ {
			for c := 0; c < 3; c++ {
				m[r][size-11+c] = module{reserved: true}
				m[size-11+c][r] = module{reserved: true}
			}
		}
	}
}

func overlapsFinder(row, col, size int) bool {
	// An alignment pattern spans row±2, col±2; each finder pattern plus
	// its separator occupies an 8x8 corner square.
	hits := func(r0, c0 int) bool { return row+2 >= r0 && row-2 <= r0+7 && col+2 >= c0 && col-2 <= c0+7 }
	return hits(0, 0) || hits(0, size-8) || hits(size-8, 0)
}

func drawAlignment(m [][]module, row, col int) {
	for dy := -2; dy <= 2; dy++ {
		for dx := -2; dx <= 2; dx++ {
			set := dy == -2 || dy == 2 || dx == -2 || dx == 2 || (dy == 0 && dx == 0)
			m[row+dy][col+dx] = module{set: set, reserved: true}
		}
	}
}

// maskFuncs implement the 8 standard QR data masks.
var maskFuncs = [8]func(r, c int) bool{
	func(r, c int) bool { return (r+c)%2 == 0 },
	func(r, c int) bool { return r%2 == 0 },
	func(r, c int) bool { return c%3 == 0 },
	func(r, c int) bool { return (r+c)%3 == 0 },
	func(r, c int) bool { return (r/2+c/3)%2 == 0 },
	func(r, c int) bool { return (r*c)%2+(r*c)%3 == 0 },
	func(r, c int) bool { return ((r*c)%2+(r*c)%3)%2 == 0 },
	func(r, c int) bool { return ((r+c)%2+(r*c)%3)%2 == 0 },
}

// layoutData places codewords' bits into every non-reserved cell, zigzag
// from the bottom-right, applying the given mask pattern.
func layoutData(m [][]module, codewords []byte, mask int) {
	size := len(m)
	bitIdx := 0
	totalBits := len(codewords) * 8

	nextBit := func() bool {
		if bitIdx >= totalBits {
			return false
		}
		b := codewords[bitIdx/8]
		bit := (b >> uint(7-bitIdx%8)) & 1
		bitIdx++
		return bit == 1
	}

	col := size - 1
	upward := true
	maskFn := maskFuncs[mask]
	for col > 0 {
		if col == 6 { // skip the vertical timing column
			col--
		}
		rows := make([]int, size)
		for i := range rows {
			if upward {
				rows[i] = size - 1 - i
			} else {
				rows[i] = i
			}
		}
		for _, row := range rows {
			for _, c := range []int{col, col - 1} {
				if m[row][c].reserved {
					continue
				}
				bit := nextBit()
				if maskFn(row, c) {
					bit = !bit
				}
				m[row][c] = module{set: bit}
			}
		}
		upward = !upward
		col -= 2
	}
}

// formatInfoBits are the 15-bit BCH(15,5)-encoded format strings for EC
// level M (bits 01) across all 8 mask patterns, XORed with the standard
// mask pattern 0x5412, indexed by mask number.
var formatInfoBits = [8]uint16{
	0x5412, 0x5125, 0x5E7C, 0x5B4B,
	0x45F9, 0x40CE, 0x4F97, 0x4AA0,
}

func layoutFormatInfo(m [][]module, mask int) {
	bits := formatInfoBits[mask]
	size := len(m)

	set := func(r, c int, bit bool) { m[r][c] = module{set: bit, reserved: true} }

	// Around the top-left finder pattern.
	for i := 0; i <= 5; i++ {
		set(8, i, bitAt(bits, 14-i))
	}
	set(8, 7, bitAt(bits, 8))
	set(8, 8, bitAt(bits, 7))
	set(7, 8, bitAt(bits, 6))
	for i := 0; i <= 5; i++ {
		set(5-i, 8, bitAt(bits, 5-i))
	}

	// Split copy: bottom-left column and top-right row.
	for i := 0; i < 7; i++ {
		set(size-1-i, 8, bitAt(bits, 14-i))
	}
	for i := 0; i < 8; i++ {
		set(8, size-8+i, bitAt(bits, i))
	}
}

func bitAt(v uint16, i int) bool { return (v>>uint(i))&1 == 1 }

func layoutVersionInfo(m [][]module, v versionSpec) {
	bits, ok := versionInfoBits[v.number]
	if !ok {
		return
	}
	size := len(m)
	for i := 0; i < 18; i++ {
		bit := (bits>>uint(i))&1 == 1
		r := i / 3
		c := i % 3
		m[r][size-11+c] = module{set: bit, reserved: true}
		m[size-11+c][r] = module{set: bit, reserved: true}
	}
}

// scorePenalty implements the four standard QR masking penalty rules from
// ISO/IEC 18004 §7.8.3; the mask with the lowest total score is chosen.
func scorePenalty(m [][]module) int {
	size := len(m)
	total := 0

	// Rule 1: runs of 5+ same-color modules in a row or column.
	scoreRun := func(get func(i, j int) bool, outer, inner int) int {
		sum := 0
		for i := 0; i < outer; i++ {
			runLen := 1
			var prev bool
			for j := 0; j < inner; j++ {
				v := get(i, j)
				if j > 0 && v == prev {
					runLen++
					continue
				}
				if runLen >= 5 {
					sum += runLen - 2
				}
				runLen = 1
				prev = v
			}
			if runLen >= 5 {
				sum += runLen - 2
			}
		}
		return sum
	}
	total += scoreRun(func(r, c int) bool { return m[r][c].set }, size, size)
	total += scoreRun(func(c, r int) bool { return m[r][c].set }, size, size)

	// Rule 2: 2x2 blocks of the same color.
	for r := 0; r < size-1; r++ {
		for c := 0; c < size-1; c++ {
			v := m[r][c].set
			if m[r][c+1].set == v && m[r+1][c].set == v && m[r+1][c+1].set == v {
				total += 3
			}
		}
	}

	// Rule 3: patterns resembling the finder pattern's 1:1:3:1:1 ratio,
	// with 4 extra light modules on either side.
	pattern := []bool{true, false, true, true, true, false, true, false, false, false, false}
	patternRev := []bool{false, false, false, false, true, false, true, true, true, false, true}
	matchAt := func(get func(k int) bool, start int) bool {
		for k, want := range pattern {
			if get(start+k) != want {
				return false
			}
		}
		return true
	}
	matchAtRev := func(get func(k int) bool, start int) bool {
		for k, want := range patternRev {
			if get(start+k) != want {
				return false
			}
		}
		return true
	}
	for r := 0; r < size; r++ {
		for c := 0; c <= size-11; c++ {
			get := func(k int) bool { return m[r][c+k].set }
			if matchAt(get, 0) || matchAtRev(get, 0) {
				total += 40
			}
		}
	}
	for c := 0; c < size; c++ {
		for r := 0; r <= size-11; r++ {
			get := func(k int) bool { return m[r+k][c].set }
			if matchAt(get, 0) || matchAtRev(get, 0) {
				total += 40
			}
		}
	}

	// Rule 4: deviation of dark-module ratio from 50%, in steps of 5%.
	dark := 0
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			if m[r][c].set {
				dark++
			}
		}
	}
	percent := dark * 100 / (size * size)
	prev5 := percent - percent%5
	next5 := prev5 + 5
	a := abs(prev5 - 50)
	b := abs(next5 - 50)
	deviation := a
	if b < a {
		deviation = b
	}
	total += (deviation / 5) * 10

	return total
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
