package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"refund-insights-service/internal/repository"
)

const (
	dateLayout       = "2006-01-02"
	defaultWindow    = 30 * 24 * time.Hour
	topBucketsPerTab = 3
)

// SummaryReport is the dashboard headline card
type SummaryReport struct {
	Shop         string  `json:"shop"`
	From         string  `json:"from"`
	To           string  `json:"to"`
	TotalSales   float64 `json:"totalSales"`
	TotalRefunds float64 `json:"totalRefunds"`
	NetRevenue   float64 `json:"netRevenue"`
	OrderCount   int64   `json:"orderCount"`
	RefundCount  int64   `json:"refundCount"`
	RefundRate   float64 `json:"refundRate"` // refunds as a percentage of sales
}

// ChartPoint is one day in the sales/refunds time series. Only days with
// activity on either side appear; the quiet side of an active day is zero.
type ChartPoint struct {
	Date    string  `json:"date"`
	Sales   float64 `json:"sales"`
	Refunds float64 `json:"refunds"`
}

// ReportService assembles dashboard reports from the aggregation queries.
// Money is stored at full precision and rounded to two decimals here, at
// the presentation edge.
type ReportService struct {
	reportRepo *repository.ReportRepository
	logger     *logrus.Entry
}

// NewReportService creates a new report service
func NewReportService(reportRepo *repository.ReportRepository, logger *logrus.Logger) *ReportService {
	return &ReportService{
		reportRepo: reportRepo,
		logger:     logger.WithField("component", "report_service"),
	}
}

// ParseDateRange parses from/to query values (YYYY-MM-DD). Missing values
// default to the last 30 days; to is extended to the end of its day so a
// single-day range covers the whole day.
func ParseDateRange(fromStr, toStr string) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.Add(-defaultWindow)
	to := now

	if fromStr != "" {
		t, err := time.Parse(dateLayout, fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from date %q: expected YYYY-MM-DD", fromStr)
		}
		from = t
	}
	if toStr != "" {
		t, err := time.Parse(dateLayout, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to date %q: expected YYYY-MM-DD", toStr)
		}
		to = t.Add(24*time.Hour - time.Nanosecond)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("to date precedes from date")
	}
	return from, to, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Summary computes the headline totals for a shop and window
func (s *ReportService) Summary(ctx context.Context, shop string, from, to time.Time) (*SummaryReport, error) {
	sales, orderCount, err := s.reportRepo.TotalSales(ctx, shop, from, to)
	if err != nil {
		return nil, err
	}
	refunds, refundCount, err := s.reportRepo.TotalRefunds(ctx, shop, from, to)
	if err != nil {
		return nil, err
	}

	report := &SummaryReport{
		Shop:         shop,
		From:         from.Format(dateLayout),
		To:           to.Format(dateLayout),
		TotalSales:   round2(sales),
		TotalRefunds: round2(refunds),
		NetRevenue:   round2(sales - refunds),
		OrderCount:   orderCount,
		RefundCount:  refundCount,
	}
	if sales > 0 {
		report.RefundRate = round2(refunds / sales * 100)
	}
	return report, nil
}

// mergeSeries joins the per-day sales and refund aggregates into a single
// chronological series. A day appears only when it occurs in either input;
// the side missing for that day is zero. Two empty inputs yield an empty
// series, not a window of zeros.
func mergeSeries(sales, refunds []repository.DayBucket) []ChartPoint {
	salesByDay := make(map[string]float64, len(sales))
	refundsByDay := make(map[string]float64, len(refunds))
	days := make(map[string]bool, len(sales)+len(refunds))
	for _, b := range sales {
		salesByDay[b.Day] = b.Amount
		days[b.Day] = true
	}
	for _, b := range refunds {
		refundsByDay[b.Day] = b.Amount
		days[b.Day] = true
	}

	keys := make([]string, 0, len(days))
	for day := range days {
		keys = append(keys, day)
	}
	sort.Strings(keys) // YYYY-MM-DD sorts chronologically

	points := make([]ChartPoint, 0, len(keys))
	for _, key := range keys {
		points = append(points, ChartPoint{
			Date:    key,
			Sales:   round2(salesByDay[key]),
			Refunds: round2(refundsByDay[key]),
		})
	}
	return points
}

// Chart builds the daily sales/refunds series for the window from the days
// that saw activity.
func (s *ReportService) Chart(ctx context.Context, shop string, from, to time.Time) ([]ChartPoint, error) {
	sales, err := s.reportRepo.SalesByDay(ctx, shop, from, to)
	if err != nil {
		return nil, err
	}
	refunds, err := s.reportRepo.RefundsByDay(ctx, shop, from, to)
	if err != nil {
		return nil, err
	}
	return mergeSeries(sales, refunds), nil
}

// ProductChart builds the daily series for one product title, matched
// case-insensitively: sales are order totals for orders containing the
// product, refunds are amounts of refunds touching it.
func (s *ReportService) ProductChart(ctx context.Context, shop, title string, from, to time.Time) ([]ChartPoint, error) {
	sales, err := s.reportRepo.ProductSalesByDay(ctx, shop, title, from, to)
	if err != nil {
		return nil, err
	}
	refunds, err := s.reportRepo.ProductRefundsByDay(ctx, shop, title, from, to)
	if err != nil {
		return nil, err
	}
	return mergeSeries(sales, refunds), nil
}

// TopReasons returns the top three refund reasons by refunded amount
func (s *ReportService) TopReasons(ctx context.Context, shop string, from, to time.Time) ([]repository.RefundReason, error) {
	reasons, err := s.reportRepo.TopRefundReasons(ctx, shop, from, to, topBucketsPerTab)
	if err != nil {
		return nil, err
	}
	for i := range reasons {
		reasons[i].Amount = round2(reasons[i].Amount)
	}
	return reasons, nil
}

// TopProducts returns the top three refunded products by refunded quantity
func (s *ReportService) TopProducts(ctx context.Context, shop string, from, to time.Time) ([]repository.RefundedProduct, error) {
	return s.reportRepo.TopRefundedProducts(ctx, shop, from, to, topBucketsPerTab)
}
