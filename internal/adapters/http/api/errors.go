package api

import "errors"

// ErrBadRequest marks request bodies and parameters the handlers reject.
var ErrBadRequest = errors.New("bad request")
