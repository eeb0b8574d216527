package models

import (
	"time"
)

// Checkpoint is a snapshot of batch progress for one competitor.
type Checkpoint struct {
	CompetitorID              string           `json:"competitor_id"`
	LastProcessedProductIndex int              `json:"last_processed_product_index"`
	LastProcessedSKU          string           `json:"last_processed_sku"`
	TotalProducts             int              `json:"total_products"`
	SuccessCount              int              `json:"success_count"`
	NotFoundCount             int              `json:"not_found_count"`
	ErrorCount                int              `json:"error_count"`
	Timestamp                 time.Time        `json:"timestamp"`
	Results                   []ScrapingResult `json:"results"`
}

// Counts tallies found / not found / errored results.
type Counts struct {
	Found    int `json:"found"`
	NotFound int `json:"not_found"`
	Errors   int `json:"errors"`
}

func CountResults(results []ScrapingResult) Counts {
	var c Counts
	for i := range results {
		switch {
		case results[i].HasError():
			c.Errors++
		case results[i].Found:
			c.Found++
		default:
			c.NotFound++
		}
	}
	return c
}

func CountMatchTypes(results []ScrapingResult) map[MatchType]int {
	counts := make(map[MatchType]int)
	for i := range results {
		if results[i].Found {
			counts[results[i].MatchType]++
		}
	}
	return counts
}

// BatchSummary holds the aggregate statistics logged at the end of a batch.
type BatchSummary struct {
	CompetitorID     string            `json:"competitor_id"`
	TotalProducts    int               `json:"total_products"`
	ProductsScraped  int               `json:"products_scraped"`
	Found            int               `json:"found"`
	NotFound         int               `json:"not_found"`
	Errors           int               `json:"errors"`
	FoundRate        float64           `json:"found_rate"`
	NotFoundRate     float64           `json:"not_found_rate"`
	ErrorRate        float64           `json:"error_rate"`
	MatchTypes       map[MatchType]int `json:"match_types"`
	StartedAt        time.Time         `json:"started_at"`
	CompletedAt      time.Time         `json:"completed_at"`
	Duration         time.Duration     `json:"duration"`
	AvgPerProduct    time.Duration     `json:"avg_per_product"`
	ResumedFromIndex int               `json:"resumed_from_index"`
	ProcessedThisRun int               `json:"processed_this_run"`
}

// Summarize builds a BatchSummary. Rates are percentages of the results
// list; the average covers only products processed in this run.
func Summarize(competitorID string, total int, results []ScrapingResult, startedAt, completedAt time.Time, resumedFrom, processed int) *BatchSummary {
	counts := CountResults(results)
	s := &BatchSummary{
		CompetitorID:     competitorID,
		TotalProducts:    total,
		ProductsScraped:  len(results),
		Found:            counts.Found,
		NotFound:         counts.NotFound,
		Errors:           counts.Errors,
		MatchTypes:       CountMatchTypes(results),
		StartedAt:        startedAt,
		CompletedAt:      completedAt,
		Duration:         completedAt.Sub(startedAt),
		ResumedFromIndex: resumedFrom,
		ProcessedThisRun: processed,
	}

	if n := len(results); n > 0 {
		s.FoundRate = float64(counts.Found) / float64(n) * 100
		s.NotFoundRate = float64(counts.NotFound) / float64(n) * 100
		s.ErrorRate = float64(counts.Errors) / float64(n) * 100
	}

	if processed > 0 {
		s.AvgPerProduct = s.Duration / time.Duration(processed)
	}

	return s
}

// BatchOutput is the document persisted for one competitor run.
type BatchOutput struct {
	BatchID          string            `json:"batch_id"`
	CompetitorID     string            `json:"competitor_id"`
	CompetitorName   string            `json:"competitor_name,omitempty"`
	StartedAt        time.Time         `json:"started_at"`
	CompletedAt      time.Time         `json:"completed_at"`
	TotalProducts    int               `json:"total_products"`
	ProductsScraped  int               `json:"products_scraped"`
	ProductsFound    int               `json:"products_found"`
	ProductsNotFound int               `json:"products_not_found"`
	Errors           int               `json:"errors"`
	MatchTypeCounts  map[MatchType]int `json:"match_type_counts,omitempty"`
	Results          []ScrapingResult  `json:"results"`
}

func NewBatchOutput(batchID, competitorName string, summary *BatchSummary, results []ScrapingResult) *BatchOutput {
	if results == nil {
		results = []ScrapingResult{}
	}
	return &BatchOutput{
		BatchID:          batchID,
		CompetitorID:     summary.CompetitorID,
		CompetitorName:   competitorName,
		StartedAt:        summary.StartedAt,
		CompletedAt:      summary.CompletedAt,
		TotalProducts:    summary.TotalProducts,
		ProductsScraped:  summary.ProductsScraped,
		ProductsFound:    summary.Found,
		ProductsNotFound: summary.NotFound,
		Errors:           summary.Errors,
		MatchTypeCounts:  summary.MatchTypes,
		Results:          results,
	}
}
