package file

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	return NewPersistence(t.TempDir())
}

func activeFlow(id string, triggerType models.TriggerType) *models.Flow {
	return &models.Flow{
		ID:     id,
		Name:   "Test Flow " + id,
		Status: models.FlowStatusActive,
		Trigger: models.Trigger{
			Type: triggerType,
		},
		Steps: []models.Step{
			{Kind: models.StepKindSendMessage, SendMessage: &models.SendMessageConfig{Subject: "Hi"}},
		},
	}
}

func TestNewPersistenceStripsFileScheme(t *testing.T) {
	dir := t.TempDir()

	p := NewPersistence("file://" + dir)

	require.NoError(t, p.HealthCheck(context.Background()))
}

func TestFlowRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).FlowRepository()

	flow := activeFlow("flow-1", models.TriggerCustomerCreated)
	require.NoError(t, repo.Save(ctx, flow))

	got, err := repo.GetByID(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, flow.Name, got.Name)
	assert.Equal(t, models.TriggerCustomerCreated, got.Trigger.Type)

	require.NoError(t, repo.Delete(ctx, "flow-1"))

	_, err = repo.GetByID(ctx, "flow-1")
	assert.ErrorIs(t, err, persistence.ErrFlowNotFound)
}

func TestFlowRepositoryListActiveByTrigger(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).FlowRepository()

	require.NoError(t, repo.Save(ctx, activeFlow("flow-1", models.TriggerCustomerCreated)))
	require.NoError(t, repo.Save(ctx, activeFlow("flow-2", models.TriggerOrderPlaced)))

	paused := activeFlow("flow-3", models.TriggerCustomerCreated)
	paused.Status = models.FlowStatusPaused
	require.NoError(t, repo.Save(ctx, paused))

	flows, err := repo.ListActiveByTrigger(ctx, models.TriggerCustomerCreated)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "flow-1", flows[0].ID)
}

func TestFlowRepositoryIncrementStatsConcurrently(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).FlowRepository()

	require.NoError(t, repo.Save(ctx, activeFlow("flow-1", models.TriggerCustomerCreated)))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			assert.NoError(t, repo.IncrementStats(ctx, "flow-1", models.FlowStats{
				MessagesSent: 1,
				RevenueCents: 100,
			}))
		}()
	}

	wg.Wait()

	flow, err := repo.GetByID(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), flow.Stats.MessagesSent)
	assert.Equal(t, int64(2000), flow.Stats.RevenueCents)
}

func TestExecutionRepositoryCreateRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).ExecutionRepository()

	flow := activeFlow("flow-1", models.TriggerCustomerCreated)
	now := time.Now()

	first := models.NewExecution("exec-1", flow, "cust-1", nil, now)
	require.NoError(t, repo.Create(ctx, first))

	// Same flow, same customer, while the first is still running.
	duplicate := models.NewExecution("exec-2", flow, "cust-1", nil, now)
	err := repo.Create(ctx, duplicate)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrDuplicateExecution)

	// Another customer is fine.
	other := models.NewExecution("exec-3", flow, "cust-2", nil, now)
	assert.NoError(t, repo.Create(ctx, other))

	// Once the first completes, the pair frees up.
	first.Complete(now)
	require.NoError(t, repo.Update(ctx, first))

	again := models.NewExecution("exec-4", flow, "cust-1", nil, now)
	assert.NoError(t, repo.Create(ctx, again))
}

func TestExecutionRepositoryCreateIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).ExecutionRepository()

	flow := activeFlow("flow-1", models.TriggerCustomerCreated)
	now := time.Now()

	var wg sync.WaitGroup

	var mu sync.Mutex

	created := 0

	// Near-simultaneous duplicate triggers: exactly one may win.
	for i := range 10 {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			execution := models.NewExecution("exec-"+string(rune('a'+n)), flow, "cust-1", nil, now)
			if err := repo.Create(ctx, execution); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()

	assert.Equal(t, 1, created)
}

func TestExecutionRepositoryFindRunning(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).ExecutionRepository()

	flow := activeFlow("flow-1", models.TriggerCustomerCreated)
	now := time.Now()

	_, err := repo.FindRunning(ctx, "flow-1", "cust-1")
	assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)

	execution := models.NewExecution("exec-1", flow, "cust-1", nil, now)
	require.NoError(t, repo.Create(ctx, execution))

	got, err := repo.FindRunning(ctx, "flow-1", "cust-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", got.ID)

	// Waiting executions still count as running.
	require.NoError(t, execution.Suspend(now.Add(time.Hour), now))
	require.NoError(t, repo.Update(ctx, execution))

	_, err = repo.FindRunning(ctx, "flow-1", "cust-1")
	assert.NoError(t, err)
}

func TestExecutionRepositoryListWaitingDue(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).ExecutionRepository()

	flow := activeFlow("flow-1", models.TriggerCustomerCreated)
	now := time.Now()

	due := models.NewExecution("exec-due", flow, "cust-1", nil, now.Add(-2*time.Hour))
	require.NoError(t, due.Suspend(now.Add(-time.Hour), now.Add(-2*time.Hour)))
	require.NoError(t, repo.Create(ctx, due))

	notYet := models.NewExecution("exec-later", flow, "cust-2", nil, now)
	require.NoError(t, notYet.Suspend(now.Add(time.Hour), now))
	require.NoError(t, repo.Create(ctx, notYet))

	active := models.NewExecution("exec-active", flow, "cust-3", nil, now)
	require.NoError(t, repo.Create(ctx, active))

	got, err := repo.ListWaitingDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "exec-due", got[0].ID)
}

func TestExecutionRepositoryResumeIfWaitingClaimsOnce(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).ExecutionRepository()

	flow := activeFlow("flow-1", models.TriggerCustomerCreated)
	now := time.Now()

	execution := models.NewExecution("exec-1", flow, "cust-1", nil, now.Add(-2*time.Hour))
	require.NoError(t, execution.Suspend(now.Add(-time.Hour), now.Add(-2*time.Hour)))
	require.NoError(t, repo.Create(ctx, execution))

	var wg sync.WaitGroup

	var mu sync.Mutex

	winners := 0

	// The recovery sweep, the delay queue and the fallback timer can all
	// fire for the same due execution; exactly one may claim it.
	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, claimed, err := repo.ResumeIfWaiting(ctx, "exec-1", now)
			assert.NoError(t, err)

			if claimed {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, winners)

	stored, err := repo.GetByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusActive, stored.Status)
	assert.Nil(t, stored.ResumeAt)

	// A firing that arrives after the transition observes it without error.
	got, claimed, err := repo.ResumeIfWaiting(ctx, "exec-1", now)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, models.ExecutionStatusActive, got.Status)
}

func TestExecutionRepositoryUpdateRefusesTerminalOverwrite(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).ExecutionRepository()

	flow := activeFlow("flow-1", models.TriggerCustomerCreated)
	now := time.Now()

	execution := models.NewExecution("exec-1", flow, "cust-1", nil, now)
	require.NoError(t, repo.Create(ctx, execution))

	// A copy fetched before the cancel, still active in memory.
	stale, err := repo.GetByID(ctx, "exec-1")
	require.NoError(t, err)

	require.True(t, execution.Cancel(now))
	require.NoError(t, repo.Update(ctx, execution))

	err = repo.Update(ctx, stale)
	assert.ErrorIs(t, err, persistence.ErrExecutionSuperseded)

	stored, err := repo.GetByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)

	// Writes that keep the terminal status still land: the attribution
	// ledger accepts appends after the execution finished.
	stored.Attribute(models.AttributedOrder{OrderID: "order-1", AmountCents: 4999, At: now})
	require.NoError(t, repo.Update(ctx, stored))

	final, err := repo.GetByID(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, final.AttributedOrders, 1)
}

func TestExecutionRepositoryUpdateMissing(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).ExecutionRepository()

	flow := activeFlow("flow-1", models.TriggerCustomerCreated)
	execution := models.NewExecution("exec-ghost", flow, "cust-1", nil, time.Now())

	err := repo.Update(ctx, execution)
	assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestCustomerRepository(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).CustomerRepository()

	customer := &models.Customer{
		ID:    "cust-1",
		Email: "ada@example.com",
		Tags:  []string{"vip"},
	}
	require.NoError(t, repo.Save(ctx, customer))

	byID, err := repo.GetByID(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", byID.Email)

	byEmail, err := repo.GetByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cust-1", byEmail.ID)

	_, err = repo.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, persistence.ErrCustomerNotFound)
}

func TestClickRepositoryLatestLookups(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).ClickRepository()

	now := time.Now()

	require.NoError(t, repo.Record(ctx, &models.ClickEvent{
		ID:          "click-old",
		CustomerID:  "cust-1",
		Email:       "ada@example.com",
		ExecutionID: "exec-old",
		ClickedAt:   now.Add(-48 * time.Hour),
	}))
	require.NoError(t, repo.Record(ctx, &models.ClickEvent{
		ID:          "click-new",
		CustomerID:  "cust-1",
		Email:       "ada@example.com",
		ExecutionID: "exec-new",
		ClickedAt:   now.Add(-time.Hour),
	}))

	since := now.Add(-24 * time.Hour)

	latest, err := repo.LatestByCustomer(ctx, "cust-1", since)
	require.NoError(t, err)
	assert.Equal(t, "click-new", latest.ID)

	latest, err = repo.LatestByEmail(ctx, "ada@example.com", since)
	require.NoError(t, err)
	assert.Equal(t, "exec-new", latest.ExecutionID)

	// Clicks outside the window are invisible.
	_, err = repo.LatestByCustomer(ctx, "cust-1", now.Add(-30*time.Minute))
	assert.ErrorIs(t, err, persistence.ErrClickNotFound)

	_, err = repo.LatestByCustomer(ctx, "cust-unknown", since)
	assert.ErrorIs(t, err, persistence.ErrClickNotFound)
}

func TestCampaignRepositoryIncrementStats(t *testing.T) {
	ctx := context.Background()
	repo := newTestPersistence(t).CampaignRepository()

	require.NoError(t, repo.Save(ctx, &models.Campaign{ID: "camp-1", Name: "Summer Sale"}))

	require.NoError(t, repo.IncrementStats(ctx, "camp-1", 1, 4999))
	require.NoError(t, repo.IncrementStats(ctx, "camp-1", 1, 2500))

	campaign, err := repo.GetByID(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), campaign.OrdersAttributed)
	assert.Equal(t, int64(7499), campaign.RevenueCents)

	assert.ErrorIs(t, repo.IncrementStats(ctx, "camp-missing", 1, 1), persistence.ErrCampaignNotFound)
}

func TestValidateIDRejectsTraversal(t *testing.T) {
	assert.Error(t, validateID(""))
	assert.Error(t, validateID("../escape"))
	assert.Error(t, validateID("a/b"))
	assert.NoError(t, validateID("exec-123"))
}
