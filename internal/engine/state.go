package engine

import (
	"time"

	"levelcube/internal/attitude"
	"levelcube/internal/source"
)

// State is one published snapshot. Values are immutable once published;
// the quaternion is unit length and consistent with the angles.
type State struct {
	Qx float64 `json:"qx"`
	Qy float64 `json:"qy"`
	Qz float64 `json:"qz"`
	Qw float64 `json:"qw"`

	RollDeg  float64 `json:"roll_deg"`
	PitchDeg float64 `json:"pitch_deg"`
	YawDeg   float64 `json:"yaw_deg"`

	// SampleHz is the measured publish rate.
	SampleHz float64 `json:"sample_hz"`
	// Error is the latest acquisition failure; empty when healthy.
	Error string `json:"error,omitempty"`

	// Valid is false until the first attitude has been published.
	Valid      bool        `json:"valid"`
	Running    bool        `json:"running"`
	Mode       source.Mode `json:"mode,omitempty"`
	TargetHz   float64     `json:"target_hz"`
	Calibrated bool        `json:"calibrated"`
	Seq        uint64      `json:"seq"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

func initialState() *State {
	return &State{Qw: 1}
}

func (s State) Quaternion() attitude.Quaternion {
	return attitude.Quaternion{X: s.Qx, Y: s.Qy, Z: s.Qz, W: s.Qw}
}

func (s State) Angles() attitude.Angles {
	return attitude.Angles{RollDeg: s.RollDeg, PitchDeg: s.PitchDeg, YawDeg: s.YawDeg}
}

func (s *State) setAttitude(q attitude.Quaternion, a attitude.Angles) {
	s.Qx, s.Qy, s.Qz, s.Qw = q.X, q.Y, q.Z, q.W
	s.RollDeg, s.PitchDeg, s.YawDeg = a.RollDeg, a.PitchDeg, a.YawDeg
	s.Valid = true
}
