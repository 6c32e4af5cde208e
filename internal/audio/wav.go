/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audio converts raw PCM between the wire formats the upstream model
// service speaks (16-bit little-endian mono PCM) and playable WAV containers.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Sample rates used by the upstream live protocol.
const (
	InputSampleRate  = 16000 // microphone audio sent upstream
	OutputSampleRate = 24000 // assistant audio received from upstream
)

// PCMToWAV wraps 16-bit LE mono PCM in a WAV container at the given sample rate.
func PCMToWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("empty pcm payload")
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not 16-bit aligned: %d bytes", len(pcm))
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	buffer := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}

	var out seekableBuffer
	enc := wav.NewEncoder(&out, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}

	return out.data, nil
}

// PCMToWAVBase64 is PCMToWAV with a base64 result, the shape clients play back.
func PCMToWAVBase64(pcm []byte, sampleRate int) (string, error) {
	wavBytes, err := PCMToWAV(pcm, sampleRate)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(wavBytes), nil
}

// DecodeBase64 decodes a base64 payload, returning an empty slice on garbage
// input rather than failing the caller's audio path.
func DecodeBase64(s string) []byte {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return data
}

// EncodeBase64 encodes raw bytes for the wire.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Concat joins audio fragments in order into one buffer.
func Concat(fragments [][]byte) []byte {
	var total int
	for _, f := range fragments {
		total += len(f)
	}
	out := make([]byte, 0, total)
	for _, f := range fragments {
		out = append(out, f...)
	}
	return out
}

// seekableBuffer adapts an in-memory byte slice to io.WriteSeeker so the wav
// encoder can back-patch chunk sizes without a temp file.
type seekableBuffer struct {
	data []byte
	pos  int
}

func (b *seekableBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("negative seek position %d", abs)
	}
	b.pos = int(abs)
	return abs, nil
}

var _ io.WriteSeeker = (*seekableBuffer)(nil)
