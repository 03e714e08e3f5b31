// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package qrcode

import "fmt"

// versionSpec captures the per-version, EC-level-M capacity figures from
// ISO/IEC 18004 table 9: total codewords, the EC codewords per block, and
// the two possible group sizes (a version either has one group of equally
// sized blocks, or two groups where the second group's blocks carry one
// extra data codeword).
type versionSpec struct {
	number       int
	eccPerBlock  int
	group1Blocks int
	group1Data   int
	group2Blocks int
	group2Data   int
	alignment    []int // alignment pattern center coordinates; combinations overlapping a finder are skipped at layout
}

var versions = []versionSpec{
	{number: 1, eccPerBlock: 10, group1Blocks: 1, group1Data: 16},
	{number: 2, eccPerBlock: 16, group1Blocks: 1, group1Data: 28, alignment: []int{6, 18}},
	{number: 3, eccPerBlock: 26, group1Blocks: 1, group1Data: 44, alignment: []int{6, 22}},
	{number: 4, eccPerBlock: 18, group1Blocks: 2, group1Data: 32, alignment: []int{6, 26}},
	{number: 5, eccPerBlock: 24, group1Blocks: 2, group1Data: 43, alignment: []int{6, 30}},
	{number: 6, eccPerBlock: 16, group1Blocks: 4, group1Data: 27, alignment: []int{6, 34}},
	{number: 7, eccPerBlock: 18, group1Blocks: 4, group1Data: 31, alignment: []int{6, 22, 38}},
	{number: 8, eccPerBlock: 22, group1Blocks: 2, group1Data: 38, group2Blocks: 2, group2Data: 39, alignment: []int{6, 24, 42}},
	{number: 9, eccPerBlock: 22, group1Blocks: 3, group1Data: 36, group2Blocks: 2, group2Data: 37, alignment: []int{6, 26, 46}},
	{number: 10, eccPerBlock: 26, group1Blocks: 4, group1Data: 43, group2Blocks: 1, group2Data: 44, alignment: []int{6, 28, 50}},
}

func (v versionSpec) size() int { return 17 + 4*v.number }

func (v versionSpec) totalDataCodewords() int {
	return v.group1Blocks*v.group1Data + v.group2Blocks*v.group2Data
}

func (v versionSpec) totalBlocks() int {
	return v.group1Blocks + v.group2Blocks
}

// charCountBits is the byte-mode character-count indicator width: 8 bits
// for versions 1-9, 16 bits for versions 10-40.
func (v versionSpec) charCountBits() int {
	if v.number <= 9 {
		return 8
	}
	return 16
}

// usableBytes returns the number of payload bytes that fit once the 4-bit
// byte-mode indicator and the character-count indicator are accounted for.
func (v versionSpec) usableBytes() int {
	headerBits := 4 + v.charCountBits()
	return (v.totalDataCodewords()*8 - headerBits) / 8
}

// pickVersion returns the smallest version whose byte-mode capacity at EC
// level M holds n bytes.
func pickVersion(n int) (versionSpec, error) {
	for _, v := range versions {
		if v.usableBytes() >= n {
			return v, nil
		}
	}
	return versionSpec{}, fmt.Errorf("qrcode: payload of %d bytes exceeds supported version range (max %d)", n, versions[len(versions)-1].usableBytes())
}

// version information bit strings for versions 7-10 (18-bit BCH(18,6)
// codes from ISO/IEC 18004 Annex D), MSB first.
var versionInfoBits = map[int]uint32{
	7:  0b000111110010010100,
	8:  0b001000010110111100,
	9:  0b001001101010011001,
	10: 0b001010010011010011,
}
