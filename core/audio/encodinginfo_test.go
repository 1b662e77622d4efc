package audio

import "testing"

func TestEncodingInfoDescribesDefaultStream(t *testing.T) {
	info := GetDefaultEncodingInfo()

	if info.IsZero() {
		t.Fatalf("expected default encoding to be set")
	}
	if got := info.BytesPerSecond(); got != 32000 {
		t.Fatalf("expected 32000 bytes per second, got %d", got)
	}
	if got := info.SilenceValue(); got != 0 {
		t.Fatalf("expected linear16 silence 0, got %#x", got)
	}
}

func TestEncodingInfoSilenceValues(t *testing.T) {
	testCases := []struct {
		format   EncodingFormat
		expected byte
		size     int
	}{
		{format: EncodingALaw, expected: 0x55, size: 1},
		{format: EncodingMulaw, expected: 0xFF, size: 1},
		{format: EncodingLinear16, expected: 0x00, size: 2},
	}

	for _, testCase := range testCases {
		t.Run(testCase.format.Name(), func(t *testing.T) {
			info := EncodingInfo{SampleRate: 8000, Format: testCase.format}
			if got := info.SilenceValue(); got != testCase.expected {
				t.Fatalf("expected silence %#x, got %#x", testCase.expected, got)
			}
			if got := testCase.format.ByteSize(); got != testCase.size {
				t.Fatalf("expected byte size %d, got %d", testCase.size, got)
			}
		})
	}
}

func TestEncodingInfoZeroValue(t *testing.T) {
	if !(EncodingInfo{}).IsZero() {
		t.Fatalf("expected zero value to report zero")
	}
	if got := (EncodingInfo{SampleRate: 16000, Format: "opus"}).BytesPerSecond(); got != 0 {
		t.Fatalf("expected unknown format to report 0 bytes per second, got %d", got)
	}
}
