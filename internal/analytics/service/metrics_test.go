package service

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"fulfillment_metrics_backend/internal/analytics/domain"
)

func resolved(at time.Time, agent uuid.UUID) *domain.ResolvedStage {
	return &domain.ResolvedStage{OccurredAt: at, AgentID: agent}
}

func TestDeriveMetricDurations(t *testing.T) {
	created := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	order := domain.Order{ID: uuid.New(), ProductID: uuid.New(), CustomerID: uuid.New(), CreatedAt: created}
	agent := uuid.New()

	var res domain.StageResolution
	res[domain.StagePackaged] = resolved(created.AddDate(0, 0, 2), agent)
	res[domain.StageShipped] = resolved(created.AddDate(0, 0, 3), agent)
	res[domain.StageDelivered] = resolved(created.AddDate(0, 0, 7), agent)

	m := DeriveMetric(order, res, "Germany", nil)

	if m.DaysToPack == nil || *m.DaysToPack != 2 {
		t.Fatalf("DaysToPack = %v, want 2", m.DaysToPack)
	}
	if m.DaysToShip == nil || *m.DaysToShip != 1 {
		t.Fatalf("DaysToShip = %v, want 1", m.DaysToShip)
	}
	if m.DaysToDeliver == nil || *m.DaysToDeliver != 7 {
		t.Fatalf("DaysToDeliver = %v, want 7 (creation to delivered)", m.DaysToDeliver)
	}
	if m.IsUSCustomer {
		t.Fatal("non-US country flagged as US customer")
	}
	if !m.CreatedDate.Equal(domain.DateOf(created)) {
		t.Fatalf("CreatedDate = %v, want %v", m.CreatedDate, domain.DateOf(created))
	}
}

func TestDeriveMetricMissingStages(t *testing.T) {
	created := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	order := domain.Order{ID: uuid.New(), ProductID: uuid.New(), CreatedAt: created}
	agent := uuid.New()

	// Shipped without packaged: ship duration has no defined start.
	var res domain.StageResolution
	res[domain.StageShipped] = resolved(created.AddDate(0, 0, 3), agent)
	res[domain.StageDelivered] = resolved(created.AddDate(0, 0, 5), agent)

	m := DeriveMetric(order, res, domain.USCountry, nil)
	if m.DaysToPack != nil {
		t.Fatalf("DaysToPack = %v, want nil without packaged event", m.DaysToPack)
	}
	if m.DaysToShip != nil {
		t.Fatalf("DaysToShip = %v, want nil without packaged event", m.DaysToShip)
	}
	if m.DaysToDeliver == nil || *m.DaysToDeliver != 5 {
		t.Fatalf("DaysToDeliver = %v, want 5", m.DaysToDeliver)
	}
	if !m.IsUSCustomer {
		t.Fatal("United States customer not flagged")
	}

	// No events at all: every duration undefined.
	empty := DeriveMetric(order, domain.StageResolution{}, "", nil)
	if empty.DaysToPack != nil || empty.DaysToShip != nil || empty.DaysToDeliver != nil {
		t.Fatal("expected all durations nil for order with no resolved stages")
	}
}

func TestDeriveMetricNegativeDurationKept(t *testing.T) {
	created := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	order := domain.Order{ID: uuid.New(), ProductID: uuid.New(), CreatedAt: created}

	var res domain.StageResolution
	res[domain.StagePackaged] = resolved(created.AddDate(0, 0, -2), uuid.New())

	m := DeriveMetric(order, res, "", nil)
	if m.DaysToPack == nil || *m.DaysToPack != -2 {
		t.Fatalf("DaysToPack = %v, want -2 preserved as data-quality fact", m.DaysToPack)
	}
}

func TestDeriveMetricContractorFlag(t *testing.T) {
	created := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	order := domain.Order{ID: uuid.New(), ProductID: uuid.New(), CreatedAt: created}
	employee := uuid.New()
	contractor := uuid.New()
	unknown := uuid.New()
	dim := map[uuid.UUID]bool{employee: false, contractor: true}

	var res domain.StageResolution
	res[domain.StagePackaged] = resolved(created, employee)
	res[domain.StageShipped] = resolved(created.AddDate(0, 0, 1), contractor)

	if m := DeriveMetric(order, res, "", dim); !m.HasContractorSupport {
		t.Fatal("order with a contractor-handled stage not flagged")
	}

	res[domain.StageShipped] = resolved(created.AddDate(0, 0, 1), employee)
	if m := DeriveMetric(order, res, "", dim); m.HasContractorSupport {
		t.Fatal("employee-only order flagged as contractor supported")
	}

	// Unknown agents count as non-contractor rather than failing the order.
	res[domain.StageShipped] = resolved(created.AddDate(0, 0, 1), unknown)
	if m := DeriveMetric(order, res, "", dim); m.HasContractorSupport {
		t.Fatal("unknown agent treated as contractor")
	}
}
