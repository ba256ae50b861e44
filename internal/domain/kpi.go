package domain

// ============================================================
// KPI & chart data
// ============================================================

// KPIStats is the aggregate view of a study collection.
type KPIStats struct {
	TotalCount       int          `json:"totalCount"`
	ByStatus         StatusCounts `json:"byStatus"`
	TotalAmount      float64      `json:"totalAmount"`
	AverageAmount    float64      `json:"averageAmount"`
	CreatedThisMonth int          `json:"createdThisMonth"`
}

// ChartPoint is one (label, value) pair of a series. The x/y names match
// what the chart components consume.
type ChartPoint struct {
	Label string  `json:"x"`
	Value float64 `json:"y"`
}

// StatusSlice is one slice of the status distribution pie.
type StatusSlice struct {
	Status Status `json:"x"`
	Count  int    `json:"y"`
}

// Dashboard is returned by GET /v1/kpis.
type Dashboard struct {
	KPIs               KPIStats      `json:"kpis"`
	StatusDistribution []StatusSlice `json:"statusDistribution"`
	MonthlyAmount      []ChartPoint  `json:"monthlyAmount"`
	MonthlyCount       []ChartPoint  `json:"monthlyCount"`
	GeneratedAt        string        `json:"generatedAt"`
}

// RevenueSlice is one study's share of revenue on the home screen chart.
type RevenueSlice struct {
	StudyID string  `json:"studyId"`
	Label   string  `json:"label"`
	Value   float64 `json:"value"`
	Color   string  `json:"color"`
}

// Overview is returned by GET /v1/overview (home screen).
type Overview struct {
	TotalRevenue       float64        `json:"totalRevenue"`
	TotalStudies       int            `json:"totalStudies"`
	StudiesInProgress  int            `json:"studiesInProgress"`
	StatusDistribution StatusCounts   `json:"statusDistribution"`
	Revenue            []RevenueSlice `json:"revenue"`
	Recent             []Study        `json:"recent"`
}
