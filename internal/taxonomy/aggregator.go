package taxonomy

import (
	"context"
	"errors"
	"sync"
)

// Classification is the verdict for a single failure.
type Classification struct {
	Category  Category `json:"category"`
	Severity  Severity `json:"severity"`
	Retryable bool     `json:"retryable"`
}

// Classify decides category, severity and retryability of err.
// Validation and configuration failures are never retryable.
func Classify(err error) Classification {
	typed := AsError(err)
	if typed == nil {
		return Classification{Category: CategoryUnknown, Severity: SeverityLow}
	}

	switch typed.Category {
	case CategoryValidation, CategoryConfiguration:
		return Classification{Category: typed.Category, Severity: SeverityHigh}
	case CategoryNetwork, CategoryRateLimit:
		return Classification{Category: typed.Category, Severity: SeverityMedium, Retryable: true}
	default:
		if errors.Is(typed, context.Canceled) {
			return Classification{Category: CategoryUnknown, Severity: SeverityLow, Retryable: typed.Retryable}
		}
		return Classification{Category: CategoryUnknown, Severity: SeverityMedium, Retryable: typed.Retryable}
	}
}

// Context describes where a failure happened.
type Context struct {
	RowID    string `json:"rowId,omitempty"`
	Address  string `json:"address,omitempty"`
	Provider string `json:"provider,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

// Entry is one collected failure.
type Entry struct {
	Err            *Error
	Context        Context
	Classification Classification
}

// Summary counts collected failures.
type Summary struct {
	Total        int              `json:"total"`
	Retryable    int              `json:"retryable"`
	NonRetryable int              `json:"nonRetryable"`
	Categories   map[Category]int `json:"categories"`
}

// Aggregator collects failures of one job. It is safe for concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	entries []Entry
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Add classifies err and stores it with its context.
func (a *Aggregator) Add(err error, ctx Context) Entry {
	typed := AsError(err)
	if ctx.Provider == "" && typed != nil {
		ctx.Provider = typed.Provider
	}
	entry := Entry{Err: typed, Context: ctx, Classification: Classify(typed)}

	a.mu.Lock()
	a.entries = append(a.entries, entry)
	a.mu.Unlock()

	return entry
}

// Entries returns a copy of every collected failure.
func (a *Aggregator) Entries() []Entry {
	return a.filter(func(Entry) bool { return true })
}

// RetryableErrors returns the failures eligible for re-submission.
func (a *Aggregator) RetryableErrors() []Entry {
	return a.filter(func(e Entry) bool { return e.Classification.Retryable })
}

// NonRetryableErrors returns the failures that need operator or data fixes.
func (a *Aggregator) NonRetryableErrors() []Entry {
	return a.filter(func(e Entry) bool { return !e.Classification.Retryable })
}

// Summary counts the collected failures by retryability and category.
func (a *Aggregator) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	summary := Summary{Total: len(a.entries), Categories: make(map[Category]int)}
	for _, entry := range a.entries {
		if entry.Classification.Retryable {
			summary.Retryable++
		} else {
			summary.NonRetryable++
		}
		summary.Categories[entry.Classification.Category]++
	}

	return summary
}

// Reset drops every collected failure.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.entries = nil
	a.mu.Unlock()
}

func (a *Aggregator) filter(keep func(Entry) bool) []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Entry, 0, len(a.entries))
	for _, entry := range a.entries {
		if keep(entry) {
			out = append(out, entry)
		}
	}

	return out
}
