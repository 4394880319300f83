package opendap

import "fmt"

// HTTPError is returned when the upstream answers with a non-2xx status.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("opendap: upstream returned status %d", e.Status)
}

// NotReadyError is returned when the upstream answers 200 with an HTML error
// page instead of ASCII data, typically because the requested run has not
// been published yet.
type NotReadyError struct {
	Message string
}

func (e *NotReadyError) Error() string {
	return "opendap: dataset not available: " + e.Message
}

// ParseError is returned when an ASCII payload cannot be decoded into a
// consistent grid.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "opendap: parse: " + e.Reason
}
