package audio

import (
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DumpWAV writes raw signed-16 mono PCM bytes to a standard WAV file. It
// backs the intercom-audiotest diagnostic tool and any test that wants a
// human-auditable artifact of what passed through a ring buffer.
func DumpWAV(path string, pcm []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, SampleRate, 16, 1, 1)

	samples := make([]int, len(pcm)/FrameSize)
	for i := range samples {
		samples[i] = int(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8))
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: SampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}
