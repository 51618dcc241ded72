package crawl

import "fmt"

// FetchErrorKind classifies why a fetch failed.
type FetchErrorKind string

// Fetch failure causes.
const (
	FetchTimeout            FetchErrorKind = "timeout"
	FetchConnection         FetchErrorKind = "connection"
	FetchNonHTML            FetchErrorKind = "non_html"
	FetchBackendUnavailable FetchErrorKind = "backend_unavailable"
)

// FetchError is returned by fetch backends when a page cannot be retrieved.
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError builds a FetchError.
func NewFetchError(kind FetchErrorKind, url string, err error) *FetchError {
	return &FetchError{Kind: kind, URL: url, Err: err}
}

// RenderErrorKind classifies browser rendering failures.
type RenderErrorKind string

// Render failure causes.
const (
	RenderTimeout       RenderErrorKind = "timeout"
	RenderDriverFailure RenderErrorKind = "driver_failure"
)

// RenderError is returned by the browser backend.
type RenderError struct {
	Kind RenderErrorKind
	URL  string
	Err  error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("render %s: %s", e.URL, e.Kind)
}

func (e *RenderError) Unwrap() error { return e.Err }
