package segmenter

import "github.com/MrWong99/voxseg/pkg/audio"

// segmentBuffer accumulates the audio of the open segment as 16-bit PCM.
type segmentBuffer struct {
	pcm []int16
}

// append converts samples to PCM and adds them to the buffer.
func (b *segmentBuffer) append(samples []float32) {
	b.pcm = append(b.pcm, audio.Float32ToInt16(samples)...)
}

// appendPCM adds samples that are already 16-bit.
func (b *segmentBuffer) appendPCM(pcm []int16) {
	b.pcm = append(b.pcm, pcm...)
}

// take returns the accumulated PCM and leaves the buffer empty. The returned
// slice is owned by the caller.
func (b *segmentBuffer) take() []int16 {
	out := b.pcm
	b.pcm = nil
	return out
}

func (b *segmentBuffer) clear() { b.pcm = nil }
