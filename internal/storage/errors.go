package storage

import "errors"

var errDetectUnsupported = errors.New("filesystem detection is unsupported on this platform")
