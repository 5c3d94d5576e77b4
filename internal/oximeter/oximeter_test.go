package oximeter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulselink/pulselink/internal/oximeter"
)

// frameWith builds a 19-byte frame with the given status triplet and marker.
func frameWith(b15, b16, b17, b18 byte) []byte {
	f := make([]byte, 19)
	f[15], f[16], f[17], f[18] = b15, b16, b17, b18
	return f
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name      string
		frame     []byte
		wantOK    bool
		wantSpO2  int
		wantPulse int
	}{
		{
			name:      "valid frame",
			frame:     frameWith(0, 98, 72, 0xFF),
			wantOK:    true,
			wantSpO2:  98,
			wantPulse: 72,
		},
		{
			name:      "low spo2 still decodes",
			frame:     frameWith(0, 10, 72, 0xFF),
			wantOK:    true,
			wantSpO2:  10,
			wantPulse: 72,
		},
		{
			name:   "empty frame",
			frame:  nil,
			wantOK: false,
		},
		{
			name:   "short frame",
			frame:  make([]byte, 18),
			wantOK: false,
		},
		{
			name:   "missing validity marker",
			frame:  frameWith(0, 98, 72, 0x00),
			wantOK: false,
		},
		{
			name:   "invalid marker ignores plausible triplet",
			frame:  frameWith(1, 97, 65, 0xFE),
			wantOK: false,
		},
		{
			name:   "no-signal sentinel",
			frame:  frameWith(0xFF, 0x7F, 0xFF, 0xFF),
			wantOK: false,
		},
		{
			name:      "partial sentinel match decodes",
			frame:     frameWith(0xFF, 0x7F, 0x48, 0xFF),
			wantOK:    true,
			wantSpO2:  0x7F,
			wantPulse: 0x48,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := oximeter.DecodeFrame(tt.frame)
			if !tt.wantOK {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.wantSpO2, r.SpO2)
			assert.Equal(t, tt.wantPulse, r.Pulse)
			assert.Zero(t, r.SessionID, "decoder must not assign a session")
			assert.Zero(t, r.Timestamp, "decoder must not assign a timestamp")
		})
	}
}

func TestDecodeFrame_AllShortLengths(t *testing.T) {
	for n := 0; n < oximeter.MinFrameLen; n++ {
		f := make([]byte, n)
		for i := range f {
			f[i] = 0xFF
		}
		_, ok := oximeter.DecodeFrame(f)
		require.False(t, ok, "frame of length %d must not decode", n)
	}
}

func TestDecodeFrame_LongerFrame(t *testing.T) {
	// Devices occasionally pad frames past 19 bytes; trailing bytes are ignored.
	f := append(frameWith(0, 95, 60, 0xFF), 0xAA, 0xBB)
	r, ok := oximeter.DecodeFrame(f)
	require.True(t, ok)
	assert.Equal(t, 95, r.SpO2)
	assert.Equal(t, 60, r.Pulse)
}
