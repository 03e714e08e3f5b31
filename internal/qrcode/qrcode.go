// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package qrcode is a small from-scratch QR code encoder used only by
// internal/totp to render an otpauth:// provisioning URI as a PNG image.
// No QR-encoding library appears anywhere in the retrieved example pack,
// so this is built directly against ISO/IEC 18004: byte mode, error
// correction level M, versions 1-10 (enough capacity for an otpauth URI
// without the added complexity of multi-group version-info/alignment
// tables beyond version 10).
package qrcode

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

// moduleScale is the pixel size of each QR module in the rendered PNG.
const moduleScale = 6

// quietZone is the number of blank modules surrounding the symbol.
const quietZone = 4

// Encode renders data (typically an otpauth:// URI) as a QR code PNG.
func Encode(data string) ([]byte, error) {
	matrix, err := buildMatrix([]byte(data))
	if err != nil {
		return nil, err
	}

	size := len(matrix)
	imgSize := (size + 2*quietZone) * moduleScale
	img := image.NewGray(image.Rect(0, 0, imgSize, imgSize))
	white := color.Gray{Y: 255}
	black := color.Gray{Y: 0}
	for y := 0; y < imgSize; y++ {
		for x := 0; x < imgSize; x++ {
			img.Set(x, y, white)
		}
	}

	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			if !matrix[row][col].set {
				continue
			}
			px0 := (col + quietZone) * moduleScale
			py0 := (row + quietZone) * moduleScale
			for dy := 0; dy < moduleScale; dy++ {
				for dx := 0; dx < moduleScale; dx++ {
					img.Set(px0+dx, py0+dy, black)
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("qrcode: encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// module tracks a matrix cell's bit value and whether it's reserved for a
// function pattern (and therefore not eligible for masking/data).
type module struct {
	set      bool
	reserved bool
}

// buildMatrix picks the smallest version 1-10 at EC level M that holds
// data, encodes it in byte mode, and lays out the resulting matrix with
// the best-scoring mask applied.
func buildMatrix(data []byte) ([][]module, error) {
	v, err := pickVersion(len(data))
	if err != nil {
		return nil, err
	}

	codewords, err := encodeCodewords(v, data)
	if err != nil {
		return nil, err
	}

	size := v.size()
	best := [][]module(nil)
	bestPenalty := -1
	for mask := 0; mask < 8; mask++ {
		m := newMatrix(size)
		layoutFunctionPatterns(m, v)
		layoutData(m, codewords, mask)
		layoutFormatInfo(m, mask)
		if v.number >= 7 {
			layoutVersionInfo(m, v)
		}
		penalty := scorePenalty(m)
		if bestPenalty == -1 || penalty < bestPenalty {
			bestPenalty = penalty
			best = m
		}
	}
	return best, nil
}

func newMatrix(size int) [][]module {
	m := make([][]module, size)
	for i := range m {
		m[i] = make([]module, size)
	}
	return m
}
