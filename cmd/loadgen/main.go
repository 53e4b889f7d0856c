// Load generator for exercising the Kestrel analysis engine.
//
// Usage:
//
//	go run cmd/loadgen/main.go -customers 500 -db ./kestrel-loadgen.db
//
// This tool:
//  1. Seeds synthetic customers with clean, moderate, and risky histories
//  2. Runs batch analyses across all of them
//  3. Prints the resulting risk distribution, alert counts, and throughput
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

type archetype string

const (
	archetypeClean    archetype = "clean"
	archetypeModerate archetype = "moderate"
	archetypeRisky    archetype = "risky"
)

func main() {
	customers := flag.Int("customers", 200, "Number of synthetic customers to seed")
	dbPath := flag.String("db", "./kestrel-loadgen.db", "SQLite database path")
	batchSize := flag.Int("batch", 100, "Customers per batch analysis call")
	workers := flag.Int("workers", 8, "Concurrent analyses per batch")
	riskyShare := flag.Float64("risky", 0.2, "Fraction of risky customers (0.0-1.0)")
	seed := flag.Int64("seed", 42, "Random seed for reproducible histories")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL LOADGEN - Synthetic Risk Analysis            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nDatabase:    %s\n", *dbPath)
	fmt.Printf("Customers:   %d\n", *customers)
	fmt.Printf("Batch size:  %d\n", *batchSize)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Risky share: %.2f\n", *riskyShare)
	fmt.Println()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: *dbPath,
	})
	if err != nil {
		fmt.Printf("ERROR: failed to open repository: %v\n", err)
		os.Exit(1)
	}
	defer repo.Close()

	ruleEngine, err := rules.NewEngine()
	if err != nil {
		fmt.Printf("ERROR: failed to create rule engine: %v\n", err)
		os.Exit(1)
	}

	eng := engine.New(repo, nil, nil, ruleEngine, clockwork.NewRealClock(), domain.EngineConfig{
		MaxBatchSize: *batchSize,
		BatchWorkers: *workers,
	})

	ctx := context.Background()
	rng := rand.New(rand.NewSource(*seed))

	fmt.Printf("Seeding %d customers...\n", *customers)
	ids, err := seedCustomers(ctx, repo, rng, *customers, *riskyShare)
	if err != nil {
		fmt.Printf("ERROR: seeding failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Seeded %d customers\n\n", len(ids))

	fmt.Println("Running batch analyses...")
	start := time.Now()

	levels := map[domain.RiskLevel]int{}
	alerts := 0
	failures := 0

	for offset := 0; offset < len(ids); offset += *batchSize {
		end := offset + *batchSize
		if end > len(ids) {
			end = len(ids)
		}

		results, err := eng.AnalyzeBatch(ctx, ids[offset:end])
		if err != nil {
			fmt.Printf("ERROR: batch failed: %v\n", err)
			os.Exit(1)
		}

		for _, res := range results {
			if res.Err != nil {
				failures++
				continue
			}
			levels[res.Verdict.RiskLevel]++
			if res.Verdict.RequiresManualReview {
				alerts++
			}
		}
	}

	duration := time.Since(start)

	fmt.Println()
	fmt.Println("═══════════════════════════ RESULTS ═══════════════════════════")
	fmt.Printf("\nAnalyzed:    %d customers in %s (%.1f/s)\n",
		len(ids), duration.Round(time.Millisecond), float64(len(ids))/duration.Seconds())
	fmt.Printf("Failures:    %d\n", failures)
	fmt.Printf("Alerts:      %d manual-review verdicts\n\n", alerts)
	fmt.Println("Risk distribution:")
	for _, level := range []domain.RiskLevel{domain.RiskLow, domain.RiskMedium, domain.RiskHigh, domain.RiskCritical} {
		count := levels[level]
		pct := 100 * float64(count) / float64(len(ids))
		fmt.Printf("  %-9s %5d (%.1f%%)\n", level, count, pct)
	}
	fmt.Println()
}

// seedCustomers writes synthetic history and returns the customer ids.
func seedCustomers(ctx context.Context, repo domain.Repository, rng *rand.Rand, count int, riskyShare float64) ([]string, error) {
	now := time.Now().UTC()
	ids := make([]string, 0, count)

	for i := 0; i < count; i++ {
		kind := archetypeClean
		switch {
		case rng.Float64() < riskyShare:
			kind = archetypeRisky
		case rng.Float64() < 0.4:
			kind = archetypeModerate
		}

		id := fmt.Sprintf("load-%s-%04d", kind, i)
		if err := repo.SaveCustomer(ctx, &domain.Customer{
			ID:        id,
			FullName:  fmt.Sprintf("Load Customer %04d", i),
			CreatedAt: now.AddDate(-1, 0, 0),
		}); err != nil {
			return nil, err
		}

		if err := seedHistory(ctx, repo, rng, id, kind, now); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func seedHistory(ctx context.Context, repo domain.Repository, rng *rand.Rand, customerID string, kind archetype, now time.Time) error {
	products := []string{"tv", "sofa", "bike", "fridge", "camera", "iphone", "macbook"}

	var planCount int
	var debtPerPlan float64
	var requestBurst int

	switch kind {
	case archetypeClean:
		planCount = 1 + rng.Intn(2)
		debtPerPlan = 1000 + rng.Float64()*4000
		requestBurst = 0
	case archetypeModerate:
		planCount = 3 + rng.Intn(3)
		debtPerPlan = 4000 + rng.Float64()*6000
		requestBurst = 1 + rng.Intn(2)
	case archetypeRisky:
		planCount = 6 + rng.Intn(4)
		debtPerPlan = 12000 + rng.Float64()*8000
		requestBurst = 3 + rng.Intn(3)
	}

	for i := 0; i < planCount; i++ {
		planID := uuid.New().String()
		createdAt := now.AddDate(0, 0, -rng.Intn(80)-1)

		if err := repo.SavePlan(ctx, &domain.InstallmentPlan{
			ID:              planID,
			RequestID:       uuid.New().String(),
			CustomerID:      customerID,
			MerchantID:      fmt.Sprintf("merchant-%d", rng.Intn(10)),
			TotalAmount:     debtPerPlan * 1.2,
			PaidAmount:      debtPerPlan * 0.2,
			RemainingAmount: debtPerPlan,
			Installments:    6 + rng.Intn(12),
			Status:          domain.PlanActive,
			CreatedAt:       createdAt,
		}); err != nil {
			return err
		}

		status := domain.PaymentPaid
		if kind == archetypeRisky && rng.Float64() < 0.4 {
			status = domain.PaymentOverdue
		}
		if err := repo.SavePayment(ctx, &domain.Payment{
			ID:      uuid.New().String(),
			PlanID:  planID,
			Amount:  debtPerPlan / 6,
			DueDate: createdAt.AddDate(0, 1, 0),
			Status:  status,
		}); err != nil {
			return err
		}
	}

	// Recent request burst feeds the frequency and velocity detectors
	for i := 0; i < requestBurst; i++ {
		if err := repo.SaveRequest(ctx, &domain.InstallmentRequest{
			ID:           uuid.New().String(),
			CustomerID:   customerID,
			MerchantID:   fmt.Sprintf("merchant-%d", rng.Intn(10)),
			ProductName:  products[rng.Intn(len(products))],
			ProductValue: 500 + rng.Float64()*15000,
			Months:       6,
			Status:       domain.RequestPending,
			CreatedAt:    now.Add(-time.Duration(rng.Intn(40)) * time.Minute),
		}); err != nil {
			return err
		}
	}

	return nil
}
