package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// CrossfadeFrames blends an outgoing frame with an incoming frame at the given
// progress (0.0 = all outgoing, 1.0 = all incoming) along the smoothstep
// curve. A shorter frame is treated as silence past its end.
func CrossfadeFrames(outgoing, incoming []float32, progress float64) []float32 {
	gain := Smoothstep(progress)
	result := make([]float32, max(len(outgoing), len(incoming)))

	for i := range result {
		var out, in float64
		if i < len(outgoing) {
			out = float64(outgoing[i])
		}
		if i < len(incoming) {
			in = float64(incoming[i])
		}
		result[i] = float32(out*(1-gain) + in*gain)
	}

	return result
}
