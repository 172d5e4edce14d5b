package assemble

// knownFrameSizes lists byte sizes of common packed 4:2:2 resolutions,
// used to infer dimensions from recorded streams whose negotiated size was
// not written down, and to snap a drifting observed size to a real one.
var knownFrameSizes = []struct {
	Size   int
	Width  int
	Height int
}{
	{320 * 240 * 2, 320, 240},
	{640 * 480 * 2, 640, 480},
	{800 * 600 * 2, 800, 600},
	{1280 * 720 * 2, 1280, 720},
	{1920 * 1080 * 2, 1920, 1080},
	{1280 * 960 * 2, 1280, 960},
	{1600 * 1200 * 2, 1600, 1200},
	{960 * 480 * 2, 960, 480},
	{1920 * 480 * 2, 1920, 480},
}

// RoundToFrameSize snaps a byte count to the nearest known 4:2:2 frame size
// within 5% tolerance. With no close match the count is rounded down to an
// even number of bytes, since every 4:2:2 pixel pair is byte-aligned.
func RoundToFrameSize(actual int) int {
	best := actual
	bestDiff := int(^uint(0) >> 1)
	for _, known := range knownFrameSizes {
		diff := known.Size - actual
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff && diff < known.Size/20 {
			bestDiff = diff
			best = known.Size
		}
	}
	if best == actual {
		return (actual / 2) * 2
	}
	return best
}

// InferDimensions guesses width and height from a frame byte count, using
// the same 5% tolerance as RoundToFrameSize.
func InferDimensions(size int) (width, height int, ok bool) {
	bestDiff := int(^uint(0) >> 1)
	for _, known := range knownFrameSizes {
		diff := known.Size - size
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff && diff < known.Size/20 {
			bestDiff = diff
			width, height = known.Width, known.Height
			ok = true
		}
	}
	return width, height, ok
}
