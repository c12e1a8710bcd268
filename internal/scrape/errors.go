package scrape

import "fmt"

// TimeoutError marks a bounded wait that expired: navigation, selector
// appearance, or loading-indicator disappearance. These are usually
// transient network conditions and are retried within a window's budget.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("scrape timeout during %s: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// StructureError marks expected DOM structure missing from the page. It
// gets the same retry/skip treatment as a timeout but is logged
// distinctly, because a persistent StructureError means the source site
// changed its layout and the selector set needs updating.
type StructureError struct {
	Selector string
	Err      error
}

func (e *StructureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scrape structure: %q: %v", e.Selector, e.Err)
	}
	return fmt.Sprintf("scrape structure: %q not found", e.Selector)
}

func (e *StructureError) Unwrap() error { return e.Err }
