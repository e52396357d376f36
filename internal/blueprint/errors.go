package blueprint

import "fmt"

// FetchError reports a failure to retrieve the document from its source.
type FetchError struct {
	URI    string
	Status int // HTTP status, 0 for transport and file errors
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URI, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URI, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a malformed document.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse blueprint: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
