package audio

const (
	DefaultSampleRate = 16000
	DefaultFormat     = EncodingLinear16
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: DefaultFormat}
}

// EncodingInfo describes a mono raw audio stream.
type EncodingInfo struct {
	SampleRate int
	Format     EncodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

// SilenceValue is the byte that encodes silence in this format.
func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case EncodingALaw:
		return 0x55
	case EncodingMulaw:
		return 0xFF
	}
	return 0
}

// BytesPerSecond reports the data rate of the stream, or 0 when unknown.
func (e EncodingInfo) BytesPerSecond() int {
	if size := e.Format.ByteSize(); size > 0 {
		return e.SampleRate * size
	}
	return 0
}

type EncodingFormat string

func (e EncodingFormat) Name() string {
	return string(e)
}

func (e EncodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    EncodingFormat = "mulaw"
	EncodingALaw     EncodingFormat = "alaw"
	EncodingLinear16 EncodingFormat = "linear16"
)
