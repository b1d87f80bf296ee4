package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Wire format shared by the client, the relay and the provider:
// 24kHz mono PCM16 little-endian, base64 encoded for JSON transport.
const (
	WireSampleRate = 24000
	WireChannels   = 1
	BytesPerSample = 2
)

// ErrUpsampleUnsupported is returned by Resample when the target rate is
// higher than the source rate. The box filter only decimates.
var ErrUpsampleUnsupported = errors.New("audio: upsampling is not supported")

// EncodeFloatToWire converts normalized samples to the base64 PCM16 wire payload.
func EncodeFloatToWire(samples []float32) string {
	return base64.StdEncoding.EncodeToString(PCM16Bytes(Float32ToPCM16(samples)))
}

// DecodeWireToFloat converts a base64 PCM16 wire payload back to normalized samples.
func DecodeWireToFloat(payload string) ([]float32, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 audio: %w", err)
	}
	samples, err := BytesToPCM16(data)
	if err != nil {
		return nil, err
	}
	return PCM16ToFloat32(samples), nil
}

// Float32ToPCM16 clamps each sample to [-1, 1] and scales it asymmetrically
// (32768 below zero, 32767 otherwise) so both ends of the int16 range are reachable.
func Float32ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = floatToPCM16(s)
	}
	return out
}

func floatToPCM16(s float32) int16 {
	if s != s { // NaN
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(float64(s) * 32768)
	}
	return int16(float64(s) * 32767)
}

// PCM16ToFloat32 is the inverse of Float32ToPCM16.
func PCM16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		if s < 0 {
			out[i] = float32(float64(s) / 32768)
		} else {
			out[i] = float32(float64(s) / 32767)
		}
	}
	return out
}

// PCM16Bytes packs samples as little-endian 16-bit integers.
func PCM16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToPCM16 reinterprets little-endian bytes as signed 16-bit samples.
func BytesToPCM16(data []byte) ([]int16, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d bytes", len(data))
	}
	samples := make([]int16, len(data)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}

// Resample converts samples from sourceRate to targetRate.
//
// Equal rates return the input slice unchanged. Lower target rates use a box
// filter: output slot i averages every source sample whose position falls in
// [round(i*ratio), round((i+1)*ratio)). Good enough for speech and energy
// detection, not for high-fidelity audio.
func Resample(samples []float32, sourceRate, targetRate int) ([]float32, error) {
	if sourceRate <= 0 || targetRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive, got %d -> %d", sourceRate, targetRate)
	}
	if sourceRate == targetRate {
		return samples, nil
	}
	if targetRate > sourceRate {
		return nil, fmt.Errorf("%w: %d -> %d", ErrUpsampleUnsupported, sourceRate, targetRate)
	}

	ratio := float64(sourceRate) / float64(targetRate)
	outLen := int(math.Round(float64(len(samples)) / ratio))
	out := make([]float32, outLen)

	start := 0
	for i := 0; i < outLen; i++ {
		end := int(math.Round(float64(i+1) * ratio))
		if end > len(samples) {
			end = len(samples)
		}
		var sum float64
		count := 0
		for j := start; j < end; j++ {
			sum += float64(samples[j])
			count++
		}
		if count > 0 {
			out[i] = float32(sum / float64(count))
		}
		start = end
	}

	return out, nil
}

// CalculateRMS calculates the root mean square of normalized samples.
func CalculateRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// DurationOf returns the playback duration of mono PCM16 data at the given rate.
func DurationOf(byteLen, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := byteLen / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
