package kpi

import (
	"sort"
	"time"
	"unicode/utf16"

	"github.com/boddenberg/etudes-bfa-go/internal/domain"
)

// RecentLimit is how many studies the home screen lists.
const RecentLimit = 3

// Palette colours the revenue chart. A study keeps its colour across
// refreshes because the index is derived from its id and title.
var Palette = []string{
	"#FF6B6B",
	"#FF914D",
	"#2EC4B6",
	"#3777FF",
	"#B5179E",
	"#FFBE0B",
	"#00A6FB",
	"#F71735",
}

// ColorFor hashes "id-title" over UTF-16 code units with 32-bit wrap-around,
// so the web and mobile clients compute the same colour.
func ColorFor(s domain.Study) string {
	var h int32
	for _, c := range utf16.Encode([]rune(s.ID + "-" + s.DisplayTitle())) {
		h = int32(c) + ((h << 5) - h)
	}
	n := int64(h)
	if n < 0 {
		n = -n
	}
	return Palette[n%int64(len(Palette))]
}

// Overview builds the home screen summary.
func Overview(studies []domain.Study, now time.Time) *domain.Overview {
	ov := &domain.Overview{
		TotalStudies:       len(studies),
		StatusDistribution: domain.NewStatusCounts(),
		Revenue:            make([]domain.RevenueSlice, 0),
	}

	for _, s := range studies {
		amount := s.AmountOrZero()
		ov.TotalRevenue += amount
		status := domain.NormalizeStatus(string(s.Status))
		ov.StatusDistribution[status]++
		if status == domain.StatusInProgress {
			ov.StudiesInProgress++
		}
		if amount > 0 {
			ov.Revenue = append(ov.Revenue, domain.RevenueSlice{
				StudyID: s.ID,
				Label:   s.DisplayTitle(),
				Value:   amount,
				Color:   ColorFor(s),
			})
		}
	}

	ov.Recent = Recent(studies, now.Location(), RecentLimit)
	return ov
}

// Recent returns up to n studies, newest first. Studies without a parsable
// creation date sort last. The input is left untouched.
func Recent(studies []domain.Study, loc *time.Location, n int) []domain.Study {
	type dated struct {
		study   domain.Study
		created time.Time
	}
	rows := make([]dated, len(studies))
	for i, s := range studies {
		t, _ := s.CreatedTime(loc)
		rows[i] = dated{study: s, created: t}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].created.After(rows[j].created)
	})

	if n > len(rows) {
		n = len(rows)
	}
	recent := make([]domain.Study, n)
	for i := 0; i < n; i++ {
		recent[i] = rows[i].study
	}
	return recent
}
