package device

import (
	"github.com/peragwin/dasview/stream"
)

// int16Full is the int16 count used for a full scale audio sample.
const int16Full = 32767

// EmitAudio slices per-channel audio, normalized to [-1, 1], into lines of points samples
// and hands them to the registered callbacks. Audio channel c feeds device channel c+1,
// with the waveform on the phase stream and its magnitude on the amplitude stream. A mono
// source feeds both device channels. Any partial trailing line is not delivered. It returns
// the number of lines delivered per stream.
func EmitAudio(cbs *Callbacks, chans [][]float32, points int, format stream.SampleFormat) int {
	if len(chans) == 0 || points < 1 {
		return 0
	}
	lines := len(chans[0]) / points
	if lines < 1 {
		return 0
	}
	n := lines * points

	for ch := 1; ch <= 2; ch++ {
		src := chans[0]
		if ch-1 < len(chans) {
			src = chans[ch-1]
		}
		if len(src) < n {
			continue
		}
		wave := make([]float32, n)
		mag := make([]float32, n)
		for i, v := range src[:n] {
			if format == stream.Int16LE {
				v *= int16Full
			}
			wave[i] = v
			if v < 0 {
				v = -v
			}
			mag[i] = v
		}
		cbs.Emit(stream.Key{Channel: ch, Kind: stream.Amplitude}, lines, points, stream.Encode(mag, format))
		cbs.Emit(stream.Key{Channel: ch, Kind: stream.Phase}, lines, points, stream.Encode(wave, format))
	}
	return lines
}
