package detector

import (
	"testing"

	"github.com/MeKo-Tech/bubblenav/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obj(class ClassID, conf, x1, y1, x2, y2 float64) DetectedObject {
	return DetectedObject{Class: class, Confidence: conf, Box: utils.NewBox(x1, y1, x2, y2)}
}

func TestIoU(t *testing.T) {
	a := utils.NewBox(0, 0, 0.2, 0.2)
	assert.InDelta(t, 1.0, IoU(a, a), 1e-12)
	assert.Zero(t, IoU(a, utils.NewBox(0.5, 0.5, 0.6, 0.6)))
	assert.Zero(t, IoU(a, utils.NewBox(0.2, 0, 0.4, 0.2)), "touching edges do not intersect")
	assert.InDelta(t, 1.0/3.0, IoU(a, utils.NewBox(0.1, 0, 0.3, 0.2)), 1e-9)
	assert.Zero(t, IoU(utils.Box{}, utils.Box{}))
}

func TestIoUHalfOverlap(t *testing.T) {
	a := utils.NewBox(0, 0, 2, 1)
	b := utils.NewBox(1, 0, 3, 1)
	assert.InDelta(t, 1.0/3.0, IoU(a, b), 1e-12)
}

func TestNonMaxSuppressionPerClass(t *testing.T) {
	objs := []DetectedObject{
		obj(SpeechBalloon, 0.8, 0.1, 0.1, 0.3, 0.3),
		obj(SpeechBalloon, 0.9, 0.11, 0.11, 0.31, 0.31),
		obj(Panel, 0.7, 0.1, 0.1, 0.3, 0.3), // same box, other class survives
		obj(SpeechBalloon, 0.6, 0.6, 0.6, 0.8, 0.8),
	}
	kept := NonMaxSuppression(objs, 0.45)
	require.Len(t, kept, 3)
	assert.Equal(t, SpeechBalloon, kept[0].Class)
	assert.InDelta(t, 0.9, kept[0].Confidence, 1e-12)
	assert.InDelta(t, 0.6, kept[1].Confidence, 1e-12)
	assert.Equal(t, Panel, kept[2].Class)
}

func TestNonMaxSuppressionStrictThreshold(t *testing.T) {
	// IoU is exactly 1/3; equal to the threshold must not suppress
	objs := []DetectedObject{
		obj(SpeechBalloon, 0.9, 0, 0, 2, 1),
		obj(SpeechBalloon, 0.8, 1, 0, 3, 1),
	}
	assert.Len(t, NonMaxSuppression(objs, 1.0/3.0), 2)
	assert.Len(t, NonMaxSuppression(objs, 0.33), 1)
}

func TestNonMaxSuppressionDoesNotMutateInput(t *testing.T) {
	objs := []DetectedObject{
		obj(SpeechBalloon, 0.1, 0, 0, 0.1, 0.1),
		obj(SpeechBalloon, 0.9, 0.5, 0.5, 0.6, 0.6),
	}
	_ = NonMaxSuppression(objs, 0.45)
	assert.InDelta(t, 0.1, objs[0].Confidence, 1e-12)
}
