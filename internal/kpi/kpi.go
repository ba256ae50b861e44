// Package kpi derives dashboard statistics and chart series from a study
// collection. Every function is pure: it reads its input, never mutates it,
// and never fails. "Now" is always passed in by the caller.
package kpi

import (
	"fmt"
	"time"

	"github.com/boddenberg/etudes-bfa-go/internal/domain"
)

// Window is the number of trailing calendar months in a monthly series.
const Window = 6

// Clock returns the reference time of an aggregation.
type Clock func() time.Time

// MonthLabeler formats the first day of a bucket month.
type MonthLabeler func(time.Time) string

// EnglishMonthLabel formats "Oct 26".
func EnglishMonthLabel(t time.Time) string {
	return t.Format("Jan 06")
}

var frenchMonths = [12]string{
	"janv.", "févr.", "mars", "avr.", "mai", "juin",
	"juil.", "août", "sept.", "oct.", "nov.", "déc.",
}

// FrenchMonthLabel formats "oct. 26", the way the mobile app renders it.
func FrenchMonthLabel(t time.Time) string {
	return fmt.Sprintf("%s %02d", frenchMonths[t.Month()-1], t.Year()%100)
}

// LabelerFor picks a labeler by locale. Unknown locales fall back to English.
func LabelerFor(locale string) MonthLabeler {
	switch locale {
	case "fr", "fr-FR", "fr_FR":
		return FrenchMonthLabel
	default:
		return EnglishMonthLabel
	}
}

// Compute counts studies per status and computes the amount statistics.
func Compute(studies []domain.Study, now time.Time) domain.KPIStats {
	stats := domain.KPIStats{
		TotalCount: len(studies),
		ByStatus:   domain.NewStatusCounts(),
	}

	loc := now.Location()
	for _, s := range studies {
		stats.ByStatus[domain.NormalizeStatus(string(s.Status))]++
		stats.TotalAmount += s.AmountOrZero()

		if created, ok := s.CreatedTime(loc); ok {
			created = created.In(loc)
			if created.Year() == now.Year() && created.Month() == now.Month() {
				stats.CreatedThisMonth++
			}
		}
	}

	if stats.TotalCount > 0 {
		stats.AverageAmount = stats.TotalAmount / float64(stats.TotalCount)
	}
	return stats
}

// StatusDistribution turns per-status counts into pie slices, in canonical
// status order, leaving out statuses with a zero count.
func StatusDistribution(byStatus domain.StatusCounts) []domain.StatusSlice {
	slices := make([]domain.StatusSlice, 0, len(domain.StatusOrder))
	for _, s := range domain.StatusOrder {
		if n := byStatus[s]; n > 0 {
			slices = append(slices, domain.StatusSlice{Status: s, Count: n})
		}
	}
	return slices
}

// MonthlyAmount sums amounts per month over the trailing Window months.
// A nil labeler means EnglishMonthLabel.
func MonthlyAmount(studies []domain.Study, now time.Time, label MonthLabeler) []domain.ChartPoint {
	return monthly(studies, now, label, domain.Study.AmountOrZero)
}

// MonthlyCount counts studies per month over the trailing Window months.
func MonthlyCount(studies []domain.Study, now time.Time, label MonthLabeler) []domain.ChartPoint {
	return monthly(studies, now, label, func(domain.Study) float64 { return 1 })
}

type monthKey struct {
	year  int
	month time.Month
}

// monthsBack returns the first day of each of the last n months,
// oldest first, the current month last.
func monthsBack(now time.Time, n int) []time.Time {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	months := make([]time.Time, n)
	for i := range months {
		months[i] = first.AddDate(0, -(n - 1 - i), 0)
	}
	return months
}

func monthly(studies []domain.Study, now time.Time, label MonthLabeler, value func(domain.Study) float64) []domain.ChartPoint {
	if label == nil {
		label = EnglishMonthLabel
	}

	months := monthsBack(now, Window)
	index := make(map[monthKey]int, len(months))
	totals := make([]float64, len(months))
	for i, m := range months {
		index[monthKey{m.Year(), m.Month()}] = i
	}

	loc := now.Location()
	for _, s := range studies {
		created, ok := s.CreatedTime(loc)
		if !ok {
			continue
		}
		created = created.In(loc)
		if i, ok := index[monthKey{created.Year(), created.Month()}]; ok {
			totals[i] += value(s)
		}
	}

	points := make([]domain.ChartPoint, len(months))
	for i, m := range months {
		points[i] = domain.ChartPoint{Label: label(m), Value: totals[i]}
	}
	return points
}

// Build assembles the whole dashboard from one snapshot and one "now".
func Build(studies []domain.Study, now time.Time, label MonthLabeler) *domain.Dashboard {
	stats := Compute(studies, now)
	return &domain.Dashboard{
		KPIs:               stats,
		StatusDistribution: StatusDistribution(stats.ByStatus),
		MonthlyAmount:      MonthlyAmount(studies, now, label),
		MonthlyCount:       MonthlyCount(studies, now, label),
		GeneratedAt:        now.Format(time.RFC3339),
	}
}
