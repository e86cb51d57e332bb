// MODUL: audio
// ZWECK: WAV-Dekodierung fuer den Audio-Encoder
// INPUT: WAV-Bytes (RIFF/WAVE, PCM16)
// OUTPUT: Mono-Samples als float32 in [-1,1] plus Sample-Rate und Kanalzahl
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: keine (nur Standardbibliothek)
// HINWEISE: Mehrkanal-Audio wird durch Kanal-Mittelung zu Mono reduziert

package media

import (
	"encoding/binary"
	"fmt"

	"github.com/7blacky7/infera/api"
)

// decodeWAV parst einen PCM16-WAV-Container zu Mono-Float-Samples.
func decodeWAV(data []byte) ([]float32, int, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("%w: not a RIFF/WAVE container", api.ErrIngest)
	}

	var (
		sampleRate    int
		channels      int
		bitsPerSample int
		haveFmt       bool
		pcm           []byte
	)

	// Chunk-weise durch den Container
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			return nil, 0, 0, fmt.Errorf("%w: truncated %s chunk", api.ErrIngest, id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, fmt.Errorf("%w: short fmt chunk", api.ErrIngest)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 {
				return nil, 0, 0, fmt.Errorf("%w: only PCM wav is supported, got format %d", api.ErrIngest, audioFormat)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}

		// Chunks sind auf gerade Laengen gepolstert
		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}

	if !haveFmt || pcm == nil {
		return nil, 0, 0, fmt.Errorf("%w: missing fmt or data chunk", api.ErrIngest)
	}
	if bitsPerSample != 16 {
		return nil, 0, 0, fmt.Errorf("%w: only 16-bit PCM is supported, got %d bits", api.ErrIngest, bitsPerSample)
	}
	if channels < 1 {
		return nil, 0, 0, fmt.Errorf("%w: invalid channel count %d", api.ErrIngest, channels)
	}

	frameBytes := 2 * channels
	frames := len(pcm) / frameBytes
	samples := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var acc float32
		for c := 0; c < channels; c++ {
			off := f*frameBytes + c*2
			v := int16(binary.LittleEndian.Uint16(pcm[off : off+2]))
			acc += float32(v) / 32768
		}
		samples[f] = acc / float32(channels)
	}

	return samples, sampleRate, channels, nil
}
