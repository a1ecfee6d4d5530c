package detector

import (
	"fmt"

	"github.com/MeKo-Tech/bubblenav/internal/utils"
)

// ClassID identifies what a detection represents.
type ClassID int

const (
	SpeechBalloon ClassID = 0
	Panel         ClassID = 1
)

func (c ClassID) String() string {
	switch c {
	case SpeechBalloon:
		return "speech_balloon"
	case Panel:
		return "panel"
	default:
		return fmt.Sprintf("class_%d", int(c))
	}
}

// DetectedObject is a candidate detection with a box normalized to [0,1].
type DetectedObject struct {
	Class      ClassID
	Confidence float64
	Box        utils.Box
}

// valid reports whether the object has a positive, finite area.
func (o DetectedObject) valid() bool {
	return o.Box.Width() > 0 && o.Box.Height() > 0
}
