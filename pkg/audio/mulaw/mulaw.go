// Package mulaw implements the G.711 μ-law companding used by the telephony
// media transport (8 kHz, 8-bit, mono). The bridge itself passes μ-law bytes
// through opaquely; these conversions exist for the downlink self-test tone
// and for inspecting audio in tests.
package mulaw

import "math"

// μ-law companding constants per ITU-T G.711.
const (
	bias = 0x84
	clip = 32635
)

// EncodeSample compands one linear 16-bit PCM sample to a μ-law byte.
func EncodeSample(sample int16) byte {
	s := int32(sample)
	sign := byte(0)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > clip {
		s = clip
	}
	s += bias

	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; exponent-- {
		mask >>= 1
	}
	mantissa := byte((s >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}

// DecodeSample expands one μ-law byte back to a linear 16-bit PCM sample.
func DecodeSample(mu byte) int16 {
	mu = ^mu
	sign := mu & 0x80
	exponent := (mu >> 4) & 0x07
	mantissa := mu & 0x0F

	s := (int32(mantissa)<<3 + bias) << exponent
	s -= bias
	if sign != 0 {
		s = -s
	}
	return int16(s)
}

// Encode compands little-endian int16 PCM to μ-law, one byte per sample.
// Input with an odd byte count has its trailing byte ignored.
func Encode(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = EncodeSample(s)
	}
	return out
}

// Decode expands μ-law bytes to little-endian int16 PCM, two bytes per input
// byte.
func Decode(mu []byte) []byte {
	out := make([]byte, len(mu)*2)
	for i, b := range mu {
		s := DecodeSample(b)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// Tone synthesises a μ-law sine tone of the given frequency and duration.
// Used to prove the telephony downlink before the AI backend produces audio.
// amplitude is the peak linear sample value; sampleRate is in Hz; ms is the
// tone length in milliseconds.
func Tone(freq float64, ms, sampleRate, amplitude int) []byte {
	total := ms * sampleRate / 1000
	out := make([]byte, total)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		s := float64(amplitude) * math.Sin(2*math.Pi*freq*t)
		out[i] = EncodeSample(int16(s))
	}
	return out
}
