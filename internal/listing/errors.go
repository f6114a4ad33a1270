package listing

import "fmt"

// FetchError reports a failed page retrieval. There are no retries, so a
// fetch failure is fatal for the run that issued it.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionError reports a structural element missing from otherwise
// well-formed markup, such as a card without a name heading.
type ExtractionError struct {
	Subject string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract: missing %s", e.Subject)
}
