package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/logging"
	"github.com/dmitrijs2005/keepsake/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDeliverer struct {
	calls atomic.Int32
	err   error
}

func (c *countingDeliverer) ExecuteForDateTrigger(context.Context) (*DeliveryResult, error) {
	c.calls.Add(1)
	return &DeliveryResult{}, c.err
}

func (c *countingDeliverer) ExecuteForDeathTrigger(context.Context, string) (*DeliveryResult, error) {
	return &DeliveryResult{}, nil
}

type countingNotifier struct {
	requeues atomic.Int32
}

func (n *countingNotifier) ScheduleNotificationsForKeepsake(context.Context, string, string) (*ScheduleResult, error) {
	return &ScheduleResult{}, nil
}

func (n *countingNotifier) RequeueStalled(context.Context) (int, error) {
	n.requeues.Add(1)
	return 0, nil
}

func newScheduler(t *testing.T, s *memStore, d Deliverer, n Notifier, interval time.Duration) *Scheduler {
	t.Helper()
	db, _ := newTestDB(t)
	sch := NewScheduler(db, &fakeRepoManager{s: s}, d, n, interval, testConfig().RecoveryGrace, logging.NewNopLogger())
	sch.now = fixedNow
	return sch
}

func TestScheduler_TickPurgesExpiredTokens(t *testing.T) {
	s := newMemStore()
	expired := models.NewBeneficiaryAccessToken("b1", "old", testNow.Add(-time.Minute), testNow)
	live := models.NewBeneficiaryAccessToken("b1", "new", testNow.Add(time.Hour), testNow)
	s.tokens[expired.ID] = *expired
	s.tokens[live.ID] = *live

	d := &countingDeliverer{err: errors.New("scan failed")}
	n := &countingNotifier{}
	sch := newScheduler(t, s, d, n, time.Hour)

	sch.Tick(context.Background())

	assert.EqualValues(t, 1, d.calls.Load())
	assert.EqualValues(t, 1, n.requeues.Load(), "a failed scan does not stop the sweeps")
	assert.Len(t, s.tokens, 1)
	assert.Contains(t, s.tokens, live.ID)
}

func TestScheduler_RunTicksUntilCancelled(t *testing.T) {
	d := &countingDeliverer{}
	sch := newScheduler(t, newMemStore(), d, &countingNotifier{}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sch.Run(ctx) }()

	require.Eventually(t, func() bool { return d.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_DeliveryAndOrchestrationEndToEnd(t *testing.T) {
	s := newMemStore()
	vaultWithBeneficiaries(s)
	past := testNow.Add(-time.Minute)
	k := scheduledKeepsake("k-date", "v1", models.TriggerOnDate)
	k.RevealDate = &past
	s.addKeepsake(k)

	pub := &recordingPublisher{}
	delivery := newDeliveryService(t, s, pub)
	q := &recordingQueue{}
	orch := newOrchestrator(t, s, q)

	sch := newScheduler(t, s, delivery, orch, time.Hour)
	sch.Tick(context.Background())

	require.Len(t, pub.delivered, 1)
	for _, e := range pub.delivered {
		_, err := orch.ScheduleNotificationsForKeepsake(context.Background(), e.KeepsakeID, e.VaultID)
		require.NoError(t, err)
	}
	assert.Len(t, q.calls, 3)
}

func TestScheduler_ResumesDeathDeliveryAfterLostEvent(t *testing.T) {
	s := newMemStore()
	vaultWithBeneficiaries(s)
	s.addKeepsake(scheduledKeepsake("k-death", "v1", models.TriggerOnDeath))

	// the vault was unsealed but the DeathDeclared event never arrived
	deaths := newDeathService(t, s, &recordingPublisher{err: errors.New("bus closed")})
	require.Error(t, deaths.DeclareDeath(context.Background(), "v1", "b-trusted"))
	require.Equal(t, models.KeepsakeScheduled, s.keepsake("k-death").Status)

	pub := &recordingPublisher{}
	delivery := newDeliveryService(t, s, pub)
	sch := newScheduler(t, s, delivery, &countingNotifier{}, time.Hour)
	sch.Tick(context.Background())

	assert.Equal(t, models.KeepsakeDelivered, s.keepsake("k-death").Status)
	require.Len(t, pub.delivered, 1)
	assert.Equal(t, "k-death", pub.delivered[0].KeepsakeID)

	// nothing left to resume
	sch.Tick(context.Background())
	assert.Len(t, pub.delivered, 1)
}

func TestScheduler_ReplaysUnnotifiedDelivery(t *testing.T) {
	s := newMemStore()
	vaultWithBeneficiaries(s)
	k := scheduledKeepsake("k-manual", "v1", models.TriggerManual)
	s.addKeepsake(k)

	// delivered, but the KeepsakeDelivered event was dropped
	delivery := newDeliveryService(t, s, &recordingPublisher{err: errors.New("bus closed")})
	_, err := delivery.ManualDelivery(context.Background(), "k-manual", "owner")
	require.NoError(t, err)

	q := &recordingQueue{}
	orch := newOrchestrator(t, s, q)
	sch := newScheduler(t, s, delivery, orch, time.Hour)

	sch.Tick(context.Background())
	assert.Empty(t, q.calls, "within the grace period the event handler may still run")

	sch.now = func() time.Time { return testNow.Add(testConfig().RecoveryGrace) }
	sch.Tick(context.Background())
	assert.Len(t, q.calls, 3)
	assert.Contains(t, s.notified, "k-manual")

	sch.Tick(context.Background())
	assert.Len(t, q.calls, 3, "stamped deliveries are not replayed")
}
