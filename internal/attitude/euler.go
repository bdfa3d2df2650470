package attitude

import "math"

// gimbalEpsilon is how close |sin(pitch)| must be to 1 before pitch is
// pinned to exactly +/-90 degrees.
const gimbalEpsilon = 1e-6

// Angles are aerospace z-y-x (yaw, then pitch, then roll) Euler angles in degrees.
//
// Ranges: roll (-180,180], pitch [-90,90], yaw (-180,180].
type Angles struct {
	RollDeg  float64 `json:"roll_deg"`
	PitchDeg float64 `json:"pitch_deg"`
	YawDeg   float64 `json:"yaw_deg"`
}

// Angles extracts roll/pitch/yaw from q. Non-unit input is normalized first.
//
// At gimbal lock only the difference (or sum) of roll and yaw is observable;
// roll is reported as 0 and the whole vertical rotation goes to yaw.
func (q Quaternion) Angles() (Angles, error) {
	q, err := q.Normalize()
	if err != nil {
		return Angles{}, err
	}

	sinp := 2 * (q.W*q.Y - q.Z*q.X)
	if math.Abs(sinp) >= 1-gimbalEpsilon {
		sign := 1.0
		if sinp < 0 {
			sign = -1
		}
		yaw := -sign * 2 * math.Atan2(q.X, q.W)
		return Angles{
			RollDeg:  0,
			PitchDeg: sign * 90,
			YawDeg:   wrap180(rad2deg(yaw)),
		}, nil
	}

	roll := math.Atan2(2*(q.W*q.X+q.Y*q.Z), 1-2*(q.X*q.X+q.Y*q.Y))
	pitch := math.Asin(sinp)
	yaw := math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))

	return Angles{
		RollDeg:  wrap180(rad2deg(roll)),
		PitchDeg: rad2deg(pitch),
		YawDeg:   wrap180(rad2deg(yaw)),
	}, nil
}

// FromEuler builds a unit quaternion from z-y-x Euler angles in degrees.
func FromEuler(rollDeg, pitchDeg, yawDeg float64) Quaternion {
	cr, sr := math.Cos(deg2rad(rollDeg)/2), math.Sin(deg2rad(rollDeg)/2)
	cp, sp := math.Cos(deg2rad(pitchDeg)/2), math.Sin(deg2rad(pitchDeg)/2)
	cy, sy := math.Cos(deg2rad(yawDeg)/2), math.Sin(deg2rad(yawDeg)/2)

	q := Quaternion{
		W: cr*cp*cy + sr*sp*sy,
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
	}
	// Product of unit half-angle terms; only float drift to remove.
	n, err := q.Normalize()
	if err != nil {
		return Identity()
	}
	return n
}

// wrap180 maps deg into (-180, 180].
func wrap180(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg <= -180 {
		deg += 360
	} else if deg > 180 {
		deg -= 360
	}
	if deg == 0 {
		// Avoid reporting -0.
		return 0
	}
	return deg
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }

func rad2deg(r float64) float64 { return r * 180 / math.Pi }
