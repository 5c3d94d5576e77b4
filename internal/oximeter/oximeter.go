// Package oximeter decodes the notification frames emitted by BLT-series
// pulse oximeters over their BLE notify characteristic.
//
// A frame is a fixed-layout byte payload. The only bytes this package cares
// about are the validity marker at index 18 and the status triplet at indices
// 15-17. Everything else (waveform samples, bar graph, battery) is ignored.
package oximeter

// Frame layout constants.
const (
	// MinFrameLen is the minimum payload length for a decodable frame.
	MinFrameLen = 19

	// frameValidMarker must be present at byte 18 for the frame to carry a
	// measurement.
	frameValidMarker = 0xFF

	// Indices of the status triplet and the validity marker.
	statusIdx = 15
	spo2Idx   = 16
	pulseIdx  = 17
	markerIdx = 18
)

// noSignal is the sentinel triplet at bytes 15-17 meaning the sensor has no
// finger contact. It is reserved by the protocol and cannot collide with a
// real measurement.
var noSignal = [3]byte{0xFF, 0x7F, 0xFF}

// Reading is one decoded telemetry sample. SessionID is zero until the
// ingestion pipeline tags the reading at buffer-append time.
type Reading struct {
	SessionID int64 `json:"session_id"`
	Timestamp int64 `json:"timestamp"`
	SpO2      int   `json:"spo2"`
	Pulse     int   `json:"pulse"`
}

// DecodeFrame parses a raw notification frame. The second return value is
// false when the frame carries no measurement: short frames, frames without
// the validity marker, and the no-signal sentinel are all expected
// steady-state traffic, not errors.
//
// Timestamp and SessionID are left zero; the caller assigns them.
func DecodeFrame(frame []byte) (Reading, bool) {
	if len(frame) < MinFrameLen {
		return Reading{}, false
	}
	if frame[markerIdx] != frameValidMarker {
		return Reading{}, false
	}
	if frame[statusIdx] == noSignal[0] && frame[spo2Idx] == noSignal[1] && frame[pulseIdx] == noSignal[2] {
		return Reading{}, false
	}
	return Reading{
		SpO2:  int(frame[spo2Idx]),
		Pulse: int(frame[pulseIdx]),
	}, true
}
