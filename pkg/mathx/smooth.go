package mathx

import "math"

const minSmoothTime = 0.0001

// SmoothDamp moves current toward target like a critically damped spring and
// never overshoots. velocity carries state between calls. maxSpeed <= 0
// disables the speed cap. dt <= 0 leaves everything unchanged.
func SmoothDamp(current, target float64, velocity *float64, smoothTime, maxSpeed, dt float64) float64 {
	if dt <= 0 {
		return current
	}
	smoothTime = math.Max(minSmoothTime, smoothTime)
	omega := 2 / smoothTime
	x := omega * dt
	exp := 1 / (1 + x + 0.48*x*x + 0.235*x*x*x)

	change := current - target
	originalTo := target
	if maxSpeed > 0 {
		maxChange := maxSpeed * smoothTime
		change = math.Max(-maxChange, math.Min(maxChange, change))
	}
	target = current - change

	temp := (*velocity + omega*change) * dt
	*velocity = (*velocity - omega*temp) * exp
	output := target + (change+temp)*exp

	if (originalTo-current > 0) == (output > originalTo) {
		output = originalTo
		*velocity = (output - originalTo) / dt
	}
	return output
}

// SmoothDampVec3 is SmoothDamp applied to a point with a shared velocity.
func SmoothDampVec3(current, target Vec3, velocity *Vec3, smoothTime, maxSpeed, dt float64) Vec3 {
	if dt <= 0 {
		return current
	}
	smoothTime = math.Max(minSmoothTime, smoothTime)
	omega := 2 / smoothTime
	x := omega * dt
	exp := 1 / (1 + x + 0.48*x*x + 0.235*x*x*x)

	change := current.Sub(target)
	originalTo := target
	if maxSpeed > 0 {
		change = change.ClampLen(maxSpeed * smoothTime)
	}
	target = current.Sub(change)

	temp := velocity.Add(change.Scale(omega)).Scale(dt)
	*velocity = velocity.Sub(temp.Scale(omega)).Scale(exp)
	output := target.Add(change.Add(temp).Scale(exp))

	if originalTo.Sub(current).Dot(output.Sub(originalTo)) > 0 {
		output = originalTo
		*velocity = Zero
	}
	return output
}
