package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// AnalyzeBatch runs analyses for up to the configured maximum number of
// customers with bounded parallelism. Per-customer failures are reported in
// the matching result slot and never abort the rest of the batch.
func (e *Engine) AnalyzeBatch(ctx context.Context, customerIDs []string) ([]domain.BatchResult, error) {
	if len(customerIDs) == 0 {
		return nil, &domain.ValidationError{Field: "customerIds", Reason: "must not be empty"}
	}
	if len(customerIDs) > e.maxBatchSize {
		return nil, &domain.ValidationError{
			Field:  "customerIds",
			Reason: fmt.Sprintf("batch size %d exceeds maximum %d", len(customerIDs), e.maxBatchSize),
		}
	}

	results := make([]domain.BatchResult, len(customerIDs))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.batchWorkers)

	for i, id := range customerIDs {
		wg.Add(1)
		go func(idx int, customerID string) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			verdict, err := e.Analyze(ctx, customerID)
			results[idx] = domain.BatchResult{
				CustomerID: customerID,
				Verdict:    verdict,
				Err:        err,
			}
		}(i, id)
	}

	wg.Wait()

	return results, nil
}
