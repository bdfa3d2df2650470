package fusion

import (
	"math"

	"levelcube/internal/attitude"
)

// Mahony is a 6-DOF complementary filter: gyro integration with
// proportional-integral correction toward the measured gravity vector.
// Yaw is not observable without a magnetometer and drifts with gyro bias.
type Mahony struct {
	Kp float64
	Ki float64

	q          attitude.Quaternion
	ix, iy, iz float64
}

func NewMahony() *Mahony {
	return &Mahony{Kp: 2.0, Ki: 0.01, q: attitude.Identity()}
}

func (m *Mahony) Quaternion() attitude.Quaternion { return m.q }

// Reset returns the filter to identity and clears the integral term.
func (m *Mahony) Reset() {
	m.q = attitude.Identity()
	m.ix, m.iy, m.iz = 0, 0, 0
}

// Update advances the filter by dt seconds.
// gx, gy, gz: gyro in rad/s. ax, ay, az: accelerometer in any unit.
func (m *Mahony) Update(gx, gy, gz, ax, ay, az, dt float64) attitude.Quaternion {
	if dt <= 0 || math.IsNaN(dt) {
		return m.q
	}
	q0, q1, q2, q3 := m.q.W, m.q.X, m.q.Y, m.q.Z

	// Accel feedback only when the reading is usable (not free fall).
	an := math.Sqrt(ax*ax + ay*ay + az*az)
	if an > 1e-6 && !math.IsNaN(an) {
		ax, ay, az = ax/an, ay/an, az/an

		// World "up" seen from the body frame under the current estimate.
		v := m.q.Conjugate().Rotate([3]float64{0, 0, 1})
		vx, vy, vz := v[0], v[1], v[2]

		ex := ay*vz - az*vy
		ey := az*vx - ax*vz
		ez := ax*vy - ay*vx

		if m.Ki > 0 {
			m.ix += m.Ki * ex * dt
			m.iy += m.Ki * ey * dt
			m.iz += m.Ki * ez * dt
			gx += m.ix
			gy += m.iy
			gz += m.iz
		}
		gx += m.Kp * ex
		gy += m.Kp * ey
		gz += m.Kp * ez
	}

	gx *= 0.5 * dt
	gy *= 0.5 * dt
	gz *= 0.5 * dt
	qa, qb, qc := q0, q1, q2
	q0 += -qb*gx - qc*gy - q3*gz
	q1 += qa*gx + qc*gz - q3*gy
	q2 += qa*gy - qb*gz + q3*gx
	q3 += qa*gz + qb*gy - qc*gx

	n, err := attitude.Quaternion{W: q0, X: q1, Y: q2, Z: q3}.Normalize()
	if err != nil {
		m.Reset()
		return m.q
	}
	m.q = n
	return m.q
}
