package lifecycle

import "errors"

// ErrSizingRejected is returned by SizingParams.Evaluate when a requested
// order's size, after reduction for side-exposure overrun, falls below
// min_contract. Callers distinguish this from a transport or exchange-side
// error via errors.Is.
var ErrSizingRejected = errors.New("lifecycle: sizing policy rejected order")
