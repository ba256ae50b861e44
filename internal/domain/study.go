package domain

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================
// Études
// ============================================================

// Status is the lifecycle state of a study.
type Status string

const (
	StatusInProgress Status = "en_cours"
	StatusDelivered  Status = "livre"
	StatusInvoiced   Status = "facture"
	StatusClosed     Status = "clos"
)

// StatusOrder is the canonical enumeration order, used for every
// per-status output (counts, pie slices, pickers).
var StatusOrder = []Status{StatusInProgress, StatusDelivered, StatusInvoiced, StatusClosed}

var statusLabels = map[Status]string{
	StatusInProgress: "En cours",
	StatusDelivered:  "Livré",
	StatusInvoiced:   "Facturé",
	StatusClosed:     "Clos",
}

// Valid reports whether s belongs to the closed status set.
func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Label returns the display label of the status.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return statusLabels[StatusInProgress]
}

// NormalizeStatus maps any value outside the closed set (including "")
// to StatusInProgress.
func NormalizeStatus(raw string) Status {
	s := Status(raw)
	if s.Valid() {
		return s
	}
	return StatusInProgress
}

// ParseStatus is the strict counterpart of NormalizeStatus, used on input
// coming from API callers.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.TrimSpace(raw))
	if !s.Valid() {
		return "", &ErrValidation{
			Field:   "status",
			Message: fmt.Sprintf("must be one of en_cours, livre, facture, clos (got %q)", raw),
		}
	}
	return s, nil
}

// StatusCounts maps every status to a count.
type StatusCounts map[Status]int

// NewStatusCounts returns counts with all four statuses present at zero.
func NewStatusCounts() StatusCounts {
	c := make(StatusCounts, len(StatusOrder))
	for _, s := range StatusOrder {
		c[s] = 0
	}
	return c
}

// Total sums all counts.
func (c StatusCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Study is one étude as stored by the backend.
// Amount is nil when the backend has no value; CreatedAt is kept raw and
// may be empty or unparsable.
type Study struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Client    string   `json:"client"`
	Amount    *float64 `json:"amount"`
	Status    Status   `json:"status"`
	CreatedAt string   `json:"createdAt"`
}

// AmountOrZero returns the amount, 0 when absent.
func (s Study) AmountOrZero() float64 {
	if s.Amount == nil {
		return 0
	}
	return *s.Amount
}

// DisplayTitle returns the title or the placeholder shown by the front-end.
func (s Study) DisplayTitle() string {
	if strings.TrimSpace(s.Title) == "" {
		return "Sans titre"
	}
	return s.Title
}

// DisplayClient returns the client or the placeholder shown by the front-end.
func (s Study) DisplayClient() string {
	if strings.TrimSpace(s.Client) == "" {
		return "Client inconnu"
	}
	return s.Client
}

// timestampLayouts are tried in order. Zone-less layouts are interpreted
// in the caller's location, except date-only values which are UTC.
var timestampLayouts = []struct {
	layout string
	utc    bool
}{
	{time.RFC3339Nano, false},
	{"2006-01-02 15:04:05.999999999Z07:00", false},
	{"2006-01-02T15:04:05.999999999", false},
	{"2006-01-02 15:04:05.999999999", false},
	{"2006-01-02", true},
}

// CreatedTime parses CreatedAt. ok is false when the value is missing or
// not a recognised ISO-8601 form.
func (s Study) CreatedTime(loc *time.Location) (t time.Time, ok bool) {
	raw := strings.TrimSpace(s.CreatedAt)
	if raw == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	for _, l := range timestampLayouts {
		in := loc
		if l.utc {
			in = time.UTC
		}
		if t, err := time.ParseInLocation(l.layout, raw, in); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NewStudy holds the validated fields of a study to insert.
type NewStudy struct {
	Title  string
	Client string
	Amount *float64
	Status Status
}

// CreateStudyRequest is the body of POST /v1/studies.
type CreateStudyRequest struct {
	Title  string   `json:"title"`
	Client string   `json:"client"`
	Amount *float64 `json:"amount"`
	Status string   `json:"status,omitempty"`
}

// UpdateStatusRequest is the body of PUT /v1/studies/{id}/status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// StudyFilter narrows a study list. Zero value matches everything.
type StudyFilter struct {
	Search string
	Status Status
}

// IsZero reports whether the filter matches everything.
func (f StudyFilter) IsZero() bool {
	return strings.TrimSpace(f.Search) == "" && f.Status == ""
}

// Matches applies a case-insensitive substring search on title and client,
// then the optional status equality.
func (f StudyFilter) Matches(s Study) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !strings.Contains(strings.ToLower(s.DisplayTitle()), q) &&
			!strings.Contains(strings.ToLower(s.DisplayClient()), q) {
			return false
		}
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	return true
}
