package schema

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationSeverity separates blocking issues from advisory ones.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue locates one problem in a diagram. Path uses the document
// layout ("nodes[2].type", "edges[0].target", "/" for the whole graph).
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
	NodeIDs  []string           `json:"nodeIds,omitempty"`
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%-7s %s [%s] %s", i.Severity, i.Path, i.Code, i.Message)
}

// ValidationResult collects the issues found before a diagram runs.
// Only errors block execution.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) AddError(path, code, message string, nodeIDs ...string) {
	r.Errors = append(r.Errors, newIssue(SeverityError, path, code, message, nodeIDs))
}

func (r *ValidationResult) AddWarning(path, code, message string, nodeIDs ...string) {
	r.Warnings = append(r.Warnings, newIssue(SeverityWarning, path, code, message, nodeIDs))
}

func newIssue(sev ValidationSeverity, path, code, message string, nodeIDs []string) ValidationIssue {
	return ValidationIssue{Path: path, Code: code, Message: message, Severity: sev, NodeIDs: nodeIDs}
}

// Merge appends other's issues. A nil other is ignored.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other != nil {
		r.Errors = append(r.Errors, other.Errors...)
		r.Warnings = append(r.Warnings, other.Warnings...)
	}
}

// HasCode reports whether any error carries the given code.
func (r *ValidationResult) HasCode(code string) bool {
	return slices.ContainsFunc(r.Errors, func(i ValidationIssue) bool { return i.Code == code })
}

// ForNode returns the errors and warnings that name nodeID, errors first.
func (r *ValidationResult) ForNode(nodeID string) []ValidationIssue {
	var out []ValidationIssue
	for _, list := range [][]ValidationIssue{r.Errors, r.Warnings} {
		for _, i := range list {
			if slices.Contains(i.NodeIDs, nodeID) {
				out = append(out, i)
			}
		}
	}
	return out
}

// Issues returns errors followed by warnings.
func (r *ValidationResult) Issues() []ValidationIssue {
	return append(slices.Clone(r.Errors), r.Warnings...)
}

// ToError returns nil for a valid result. A lone error keeps its own code
// (CYCLE_DETECTED, UNKNOWN_NODE_TYPE...); several collapse into VALIDATION_ERROR.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	first := r.Errors[0]
	fe := NewError(first.Code, first.Message)
	if n := len(r.Errors); n > 1 {
		msgs := make([]string, 0, n)
		for _, e := range r.Errors {
			msgs = append(msgs, e.Message)
		}
		fe = NewErrorf(ErrCodeValidation, "diagram validation failed with %d errors: %s", n, strings.Join(msgs, "; "))
	}
	if len(first.NodeIDs) == 1 && len(r.Errors) == 1 {
		fe.WithNode(first.NodeIDs[0])
	}
	return fe.WithDetails(map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
		"warnings":      r.Warnings,
	})
}
