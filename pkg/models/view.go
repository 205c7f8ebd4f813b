package models

// ContentMode describes how the presentation layer fits the image into its view.
type ContentMode string

const (
	ContentModeAspectFit   ContentMode = "aspect_fit"
	ContentModeAspectFill  ContentMode = "aspect_fill"
	ContentModeScaleToFill ContentMode = "scale_to_fill"
)

// Orientation is the clockwise rotation in degrees that makes the stored buffer upright.
type Orientation int

const (
	OrientationUp    Orientation = 0
	OrientationRight Orientation = 90
	OrientationDown  Orientation = 180
	OrientationLeft  Orientation = 270
)

// IsValid reports whether o is one of the four supported rotations.
func (o Orientation) IsValid() bool {
	switch o {
	case OrientationUp, OrientationRight, OrientationDown, OrientationLeft:
		return true
	}
	return false
}

// BoxSpace tells the mapper which buffer the detection boxes were produced on.
type BoxSpace string

const (
	// BoxSpaceSensor boxes refer to the stored buffer and still need rotating.
	BoxSpaceSensor BoxSpace = "sensor"
	// BoxSpaceUpright boxes were produced on the already rotated image.
	BoxSpaceUpright BoxSpace = "upright"
)

// ViewMetrics is the presentation layer's current geometry.
type ViewMetrics struct {
	ViewSize    Size        `json:"view_size"`
	ContentMode ContentMode `json:"content_mode"`
	Orientation Orientation `json:"orientation"`
	BoxSpace    BoxSpace    `json:"box_space"`
}
