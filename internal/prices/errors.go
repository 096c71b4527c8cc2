package prices

import (
	"fmt"
	"sort"
	"strings"
)

// ResolutionError reports every identifier that could not be priced.
type ResolutionError struct {
	// Missing is sorted ascending and never empty.
	Missing []string
	// Causes holds the per-identifier failure, ErrNoPrice when the source had none.
	Causes map[string]error
}

func newResolutionError(causes map[string]error) *ResolutionError {
	missing := make([]string, 0, len(causes))
	for id := range causes {
		missing = append(missing, id)
	}
	sort.Strings(missing)
	return &ResolutionError{Missing: missing, Causes: causes}
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("prices: no price for %s", strings.Join(e.Missing, ", "))
}

// Cause returns the recorded failure for id, if any.
func (e *ResolutionError) Cause(id string) error {
	if e == nil || e.Causes == nil {
		return nil
	}
	return e.Causes[id]
}
