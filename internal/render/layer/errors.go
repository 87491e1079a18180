package layer

import "errors"

// ErrImageLoadFailed wraps every overlay image fetch or decode failure.
var ErrImageLoadFailed = errors.New("overlay image load failed")

// Reasons a layer was left empty, in addition to the placement reasons.
const (
	ReasonInactive = "inactive"
	ReasonStale    = "stale_landmarks"
	ReasonLoading  = "image_loading"
)
