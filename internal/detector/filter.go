package detector

// SizeFilter bounds the normalized size and aspect ratio of accepted boxes.
type SizeFilter struct {
	MinSize        float64
	MaxSize        float64
	MinAspectRatio float64
	MaxAspectRatio float64
}

// SizeFilterFromConfig extracts the filter bounds from a detector config.
func SizeFilterFromConfig(cfg Config) SizeFilter {
	return SizeFilter{
		MinSize:        cfg.MinBalloonSize,
		MaxSize:        cfg.MaxBalloonSize,
		MinAspectRatio: cfg.MinAspectRatio,
		MaxAspectRatio: cfg.MaxAspectRatio,
	}
}

// Accepts reports whether a box passes the size and aspect bounds.
func (f SizeFilter) Accepts(o DetectedObject) bool {
	w, h := o.Box.Width(), o.Box.Height()
	if w < f.MinSize || w > f.MaxSize || h < f.MinSize || h > f.MaxSize {
		return false
	}
	if h <= 0 {
		return false
	}
	aspect := w / h
	return aspect >= f.MinAspectRatio && aspect <= f.MaxAspectRatio
}

// Apply drops boxes outside the bounds. When that would leave nothing the input is
// returned unchanged, so a page keeps its over-detections rather than going blank.
func (f SizeFilter) Apply(objects []DetectedObject) ([]DetectedObject, bool) {
	if len(objects) == 0 {
		return objects, false
	}
	kept := make([]DetectedObject, 0, len(objects))
	for _, o := range objects {
		if f.Accepts(o) {
			kept = append(kept, o)
		}
	}
	if len(kept) == 0 {
		return objects, true
	}
	return kept, false
}

// Suppressed is the output of the suppression stage for one page.
type Suppressed struct {
	Balloons []DetectedObject
	// Panels are detected but not used for ordering.
	Panels []DetectedObject
	// FilterSkipped is set when the size filter would have removed every box.
	FilterSkipped bool
}

// Suppress runs per-class NMS followed by the size filter and splits the survivors by class.
func Suppress(objects []DetectedObject, cfg Config) Suppressed {
	kept := NonMaxSuppression(objects, cfg.NMSThreshold)
	filtered, skipped := SizeFilterFromConfig(cfg).Apply(kept)

	out := Suppressed{FilterSkipped: skipped}
	for _, o := range filtered {
		switch o.Class {
		case SpeechBalloon:
			out.Balloons = append(out.Balloons, o)
		case Panel:
			out.Panels = append(out.Panels, o)
		}
	}
	return out
}
