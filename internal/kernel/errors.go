package kernel

import "errors"

// ErrInternal marks a broken invariant inside the kernel itself, such as a
// commit rejected after a successful compile. The session halts until it is
// reset.
var ErrInternal = errors.New("internal kernel error")
