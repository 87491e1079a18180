package model

// Detection is one face reported by a landmark detector before normalization.
// Landmarks may be shorter or longer than NumLandmarks and are not clamped.
type Detection struct {
	Landmarks  []Landmark `json:"landmarks"`
	Confidence float64    `json:"confidence"`
	Box        *FaceBox   `json:"box,omitempty"`
}
