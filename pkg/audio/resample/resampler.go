// ABOUTME: Linear resampler and channel remixer
// ABOUTME: Converts file audio to the rate and layout a device accepts
package resample

// Resampler performs linear interpolation to convert between sample rates.
// The last input frame of each call is kept so consecutive chunks join
// without a gap.
type Resampler struct {
	channels int
	ratio    float64
	position float64
	last     []int32
	primed   bool
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		channels: channels,
		ratio:    float64(inputRate) / float64(outputRate),
		last:     make([]int32, channels),
	}
}

// Resample converts interleaved input samples to the output rate, writing
// into output. Returns the number of samples written.
func (r *Resampler) Resample(input []int32, output []int32) int {
	inputFrames := len(input) / r.channels
	if inputFrames == 0 {
		return 0
	}

	// frame i of the virtual stream is r.last for i == 0, input[i-1] after
	frame := func(i int, ch int) int32 {
		if !r.primed {
			return input[i*r.channels+ch]
		}
		if i == 0 {
			return r.last[ch]
		}
		return input[(i-1)*r.channels+ch]
	}
	frames := inputFrames
	if r.primed {
		frames++
	}

	outputFrames := len(output) / r.channels
	outIdx := 0
	for outIdx < outputFrames {
		idx := int(r.position)
		if idx >= frames-1 {
			break
		}
		frac := r.position - float64(idx)
		for ch := 0; ch < r.channels; ch++ {
			s1 := frame(idx, ch)
			s2 := frame(idx+1, ch)
			output[outIdx*r.channels+ch] = int32(float64(s1)*(1.0-frac) + float64(s2)*frac)
		}
		outIdx++
		r.position += r.ratio
	}

	// rebase so the last input frame becomes frame 0 of the next call
	r.position -= float64(frames - 1)
	if r.position < 0 {
		r.position = 0
	}
	copy(r.last, input[(inputFrames-1)*r.channels:inputFrames*r.channels])
	r.primed = true

	return outIdx * r.channels
}

// Convert resamples input into a newly allocated slice
func (r *Resampler) Convert(input []int32) []int32 {
	output := make([]int32, r.OutputSamplesNeeded(len(input))+2*r.channels)
	n := r.Resample(input, output)
	return output[:n]
}

// Reset resets the resampler state
func (r *Resampler) Reset() {
	r.position = 0
	r.primed = false
	for i := range r.last {
		r.last[i] = 0
	}
}

// OutputSamplesNeeded calculates how many output samples will be produced from input samples
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames) / r.ratio)
	return outputFrames * r.channels
}

// Remix converts interleaved samples between mono and stereo.
// Stereo to mono averages the pair; mono to stereo duplicates.
func Remix(samples []int32, from, to int) []int32 {
	switch {
	case from == to:
		return samples
	case from == 2 && to == 1:
		out := make([]int32, len(samples)/2)
		for i := range out {
			out[i] = int32((int64(samples[i*2]) + int64(samples[i*2+1])) / 2)
		}
		return out
	case from == 1 && to == 2:
		out := make([]int32, len(samples)*2)
		for i, s := range samples {
			out[i*2] = s
			out[i*2+1] = s
		}
		return out
	}
	return samples
}
