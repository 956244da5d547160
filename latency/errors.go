package latency

import "errors"

// ErrInvalidConfig is returned by NewTracker when the Config fails validation.
var ErrInvalidConfig = errors.New("latency: invalid config")
