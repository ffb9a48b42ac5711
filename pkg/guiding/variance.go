package guiding

// pixelVarianceStats accumulates per-pixel luminance and luminance-squared
// across the samples rendered during the current iteration, the same
// shape as the renderer's own per-pixel sample accumulator, kept local to
// this package so PassController doesn't need to depend on a particular
// renderer's framebuffer type.
type pixelVarianceStats struct {
	luminanceAccum   float64
	luminanceSqAccum float64
	count            int
}

func (s *pixelVarianceStats) addSample(luminance float64) {
	s.luminanceAccum += luminance
	s.luminanceSqAccum += luminance * luminance
	s.count++
}

// variance returns the population variance (sum divided by n) of the
// luminance observed so far, zero if fewer than two samples have landed.
func (s *pixelVarianceStats) variance() float64 {
	if s.count < 2 {
		return 0
	}
	n := float64(s.count)
	mean := s.luminanceAccum / n
	meanSq := s.luminanceSqAccum / n
	v := meanSq - mean*mean
	if v < 0 {
		return 0
	}
	return v
}

// varianceFramebuffer tracks pixelVarianceStats for every pixel so the
// pass controller can compute a single scalar variance estimate for the
// image as a whole: the average per-pixel variance.
type varianceFramebuffer struct {
	width, height int
	pixels        []pixelVarianceStats
}

func newVarianceFramebuffer(width, height int) *varianceFramebuffer {
	return &varianceFramebuffer{width: width, height: height, pixels: make([]pixelVarianceStats, width*height)}
}

func (f *varianceFramebuffer) addSample(x, y int, luminance float64) {
	if x < 0 || y < 0 || x >= f.width || y >= f.height {
		return
	}
	f.pixels[y*f.width+x].addSample(luminance)
}

func (f *varianceFramebuffer) clear() {
	for i := range f.pixels {
		f.pixels[i] = pixelVarianceStats{}
	}
}

// average returns the mean per-pixel variance across every pixel that has
// received at least two samples this iteration.
func (f *varianceFramebuffer) average() float64 {
	sum, n := 0.0, 0
	for i := range f.pixels {
		if f.pixels[i].count < 2 {
			continue
		}
		sum += f.pixels[i].variance()
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
