package runtime

import "errors"

var errNoBackends = errors.New("runtime: no passdb backends configured")
