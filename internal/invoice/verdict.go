package invoice

import "fmt"

// Verdict is the outcome of validating one record
type Verdict struct {
	IsValid     bool     `json:"is_valid"`
	Errors      []string `json:"errors"`
	TotalErrors int      `json:"total_errors"`
}

// report accumulates violations in detection order
type report struct {
	errors []string
}

func (r *report) add(format string, args ...any) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func (r *report) verdict() Verdict {
	errs := r.errors
	if errs == nil {
		errs = []string{}
	}
	return Verdict{
		IsValid:     len(errs) == 0,
		Errors:      errs,
		TotalErrors: len(errs),
	}
}
