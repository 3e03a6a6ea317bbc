package extraction

import "errors"

// errMalformed marks an attempt that produced output the caller could not
// parse. RetryPolicy retries only this class; transport failures abort the
// loop immediately.
var errMalformed = errors.New("malformed model output")

// RetryPolicy bounds repeated attempts of a fallible call. No backoff.
type RetryPolicy struct {
	MaxAttempts int
}

// Do invokes fn up to MaxAttempts times, passing the 1-based attempt number.
// It stops on the first nil error or the first error that is not errMalformed,
// and otherwise returns the last attempt's error.
func (p RetryPolicy) Do(fn func(attempt int) error) error {
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil || !errors.Is(err, errMalformed) {
			return err
		}
	}
	return err
}
