package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidWAV is returned for uploads that are not decodable PCM WAV data.
var ErrInvalidWAV = errors.New("invalid wav data")

// errEncoding marks a well-formed WAV whose sample encoding is not handled
// natively, such as ADPCM or mu-law.
var errEncoding = errors.New("unsupported wav encoding")

const maxAmplitude = 32768.0

const (
	formatPCM        = 1
	formatFloat      = 3
	formatExtensible = 0xFFFE
)

// Clip is a decoded mono PCM-16 recording.
type Clip struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	return samplesToDuration(len(c.Samples), c.SampleRate)
}

// RMS returns the root-mean-square amplitude of the whole clip.
func (c Clip) RMS() float64 {
	return rms(c.Samples)
}

// DBFS returns the clip loudness relative to full scale. A digitally silent
// clip returns -Inf.
func (c Clip) DBFS() float64 {
	return DBFS(c.RMS())
}

// DBFS converts an RMS amplitude to decibels relative to 16-bit full scale.
func DBFS(rmsValue float64) float64 {
	if rmsValue <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rmsValue/maxAmplitude)
}

// dbToAmplitude converts a dBFS level back to an RMS amplitude.
func dbToAmplitude(db float64) float64 {
	return math.Pow(10, db/20) * maxAmplitude
}

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func samplesToDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}

// wavHeader is the canonical 44-byte header written by EncodeWAV.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeWAV encodes mono PCM-16 samples into a WAV file.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	const numChannels, bitsPerSample = 1, 16
	dataSize := uint32(len(samples) * 2)

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   formatPCM,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * numChannels * bitsPerSample / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}
	return buf.Bytes(), nil
}

type wavFormat struct {
	audioFormat   uint16
	channels      uint16
	sampleRate    uint32
	bitsPerSample uint16
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// DecodeWAV walks the RIFF chunk list of data and returns the samples downmixed
// to mono. Integer PCM of 8, 16, 24 and 32 bits and 32/64-bit float are
// supported; unknown chunks such as LIST are skipped.
func DecodeWAV(data []byte) (Clip, error) {
	if len(data) < 12 {
		return Clip{}, fmt.Errorf("%w: need at least 12 bytes, got %d", ErrInvalidWAV, len(data))
	}
	if !IsWAV(data) {
		return Clip{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		format  *wavFormat
		pcm     []byte
		hasData bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(data) || end < body || (id == "data" && size == 0) {
			// Streaming encoders leave the data size unset; take what is there.
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return Clip{}, fmt.Errorf("%w: fmt chunk too short", ErrInvalidWAV)
			}
			f := data[body:end]
			format = &wavFormat{
				audioFormat:   binary.LittleEndian.Uint16(f[0:2]),
				channels:      binary.LittleEndian.Uint16(f[2:4]),
				sampleRate:    binary.LittleEndian.Uint32(f[4:8]),
				bitsPerSample: binary.LittleEndian.Uint16(f[14:16]),
			}
			if format.audioFormat == formatExtensible && len(f) >= 26 {
				format.audioFormat = binary.LittleEndian.Uint16(f[24:26])
			}
		case "data":
			pcm = data[body:end]
			hasData = true
		}

		pos = end
		if size%2 == 1 {
			pos++
		}
	}

	if format == nil {
		return Clip{}, fmt.Errorf("%w: missing fmt chunk", ErrInvalidWAV)
	}
	if !hasData {
		return Clip{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
	}
	if format.audioFormat != formatPCM && format.audioFormat != formatFloat {
		return Clip{}, fmt.Errorf("%w: %w: format tag %d", ErrInvalidWAV, errEncoding, format.audioFormat)
	}
	if format.channels == 0 || format.sampleRate == 0 {
		return Clip{}, fmt.Errorf("%w: zero channels or sample rate", ErrInvalidWAV)
	}

	samples, err := downmix(pcm, int(format.channels), int(format.bitsPerSample), format.audioFormat == formatFloat)
	if err != nil {
		return Clip{}, err
	}
	return Clip{Samples: samples, SampleRate: int(format.sampleRate)}, nil
}

// sampleReader converts one little-endian sample to the int16 range.
type sampleReader func(b []byte) float64

func readerFor(bits int, float bool) (sampleReader, error) {
	if float {
		switch bits {
		case 32:
			return func(b []byte) float64 {
				return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))) * (maxAmplitude - 1)
			}, nil
		case 64:
			return func(b []byte) float64 {
				return math.Float64frombits(binary.LittleEndian.Uint64(b)) * (maxAmplitude - 1)
			}, nil
		}
		return nil, fmt.Errorf("%w: %w: %d-bit float", ErrInvalidWAV, errEncoding, bits)
	}
	switch bits {
	case 8:
		return func(b []byte) float64 { return float64((int(b[0]) - 128) << 8) }, nil
	case 16:
		return func(b []byte) float64 { return float64(int16(binary.LittleEndian.Uint16(b))) }, nil
	case 24:
		return func(b []byte) float64 {
			v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			return float64(v) / 256
		}, nil
	case 32:
		return func(b []byte) float64 { return float64(int32(binary.LittleEndian.Uint32(b))) / 65536 }, nil
	}
	return nil, fmt.Errorf("%w: %w: %d-bit integer", ErrInvalidWAV, errEncoding, bits)
}

func downmix(pcm []byte, channels, bits int, float bool) ([]int16, error) {
	read, err := readerFor(bits, float)
	if err != nil {
		return nil, err
	}
	bytesPerSample := bits / 8
	frameSize := bytesPerSample * channels
	frames := len(pcm) / frameSize
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			off := i*frameSize + ch*bytesPerSample
			sum += read(pcm[off : off+bytesPerSample])
		}
		v := sum / float64(channels)
		switch {
		case v > maxAmplitude-1:
			v = maxAmplitude - 1
		case v < -maxAmplitude:
			v = -maxAmplitude
		}
		out[i] = int16(v)
	}
	return out, nil
}
