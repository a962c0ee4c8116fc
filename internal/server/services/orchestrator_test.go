package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/common"
	"github.com/dmitrijs2005/keepsake/internal/logging"
	"github.com/dmitrijs2005/keepsake/internal/server/config"
	"github.com/dmitrijs2005/keepsake/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrchestrator(t *testing.T, s *memStore, q *recordingQueue) *Orchestrator {
	t.Helper()
	return newOrchestratorWithConfig(t, s, q, testConfig())
}

func newOrchestratorWithConfig(t *testing.T, s *memStore, q *recordingQueue, cfg *config.Config) *Orchestrator {
	t.Helper()
	db, _ := newTestDB(t)
	o := NewOrchestrator(db, &fakeRepoManager{s: s}, q, nil, cfg, logging.NewNopLogger())
	o.now = fixedNow
	return o
}

func vaultWithBeneficiaries(s *memStore) {
	s.addVault(testVault("v1", "owner"))
	s.addBeneficiary(&models.Beneficiary{ID: "b-trusted", VaultID: "v1", Email: "t@example.com", IsTrustedPerson: true})
	s.addBeneficiary(&models.Beneficiary{ID: "b-one", VaultID: "v1", Email: "one@example.com"})
	s.addBeneficiary(&models.Beneficiary{ID: "b-two", VaultID: "v1", Email: "two@example.com"})
}

func TestScheduleNotifications_DefaultDelays(t *testing.T) {
	s := newMemStore()
	vaultWithBeneficiaries(s)
	q := &recordingQueue{}
	o := newOrchestrator(t, s, q)

	res, err := o.ScheduleNotificationsForKeepsake(context.Background(), "k1", "v1")
	require.NoError(t, err)
	assert.Equal(t, &ScheduleResult{Scheduled: 3}, res)
	require.Len(t, q.calls, 3)

	delays := map[string]time.Duration{}
	for _, c := range q.calls {
		assert.Equal(t, JobTypeNotification, c.jobType)
		job := c.payload.(NotificationJob)
		assert.Equal(t, job.LogID, c.opts.UniqueID)

		n := s.logs[job.LogID]
		assert.Equal(t, models.NotificationScheduled, n.Status)
		assert.Equal(t, testNow.Add(c.opts.Delay), n.ScheduledFor)
		delays[*n.BeneficiaryID] = c.opts.Delay
	}
	assert.Equal(t, 72*time.Hour, delays["b-trusted"])
	assert.Equal(t, 168*time.Hour, delays["b-one"])
	assert.Equal(t, 168*time.Hour, delays["b-two"])

	assert.Equal(t, models.NotificationTrustedPersonAlert, s.logsFor("b-trusted")[0].Type)
	assert.Equal(t, models.NotificationBeneficiaryInvitation, s.logsFor("b-one")[0].Type)
}

func TestScheduleNotifications_ZeroTrustedDelayIsImmediate(t *testing.T) {
	s := newMemStore()
	vaultWithBeneficiaries(s)
	s.configs["v1"] = models.NotificationConfig{VaultID: "v1", TrustedPersonDelayHours: 0, BeneficiaryDelayHours: 24}
	q := &recordingQueue{}
	o := newOrchestrator(t, s, q)

	_, err := o.ScheduleNotificationsForKeepsake(context.Background(), "k1", "v1")
	require.NoError(t, err)

	trusted := s.logsFor("b-trusted")
	require.Len(t, trusted, 1)
	for _, c := range q.calls {
		if c.opts.UniqueID == trusted[0].ID {
			assert.LessOrEqual(t, c.opts.Delay, time.Duration(0))
			return
		}
	}
	t.Fatal("trusted person job not enqueued")
}

func TestScheduleNotifications_DedupAcrossReplays(t *testing.T) {
	s := newMemStore()
	vaultWithBeneficiaries(s)
	q := &recordingQueue{}
	o := newOrchestrator(t, s, q)

	_, err := o.ScheduleNotificationsForKeepsake(context.Background(), "k1", "v1")
	require.NoError(t, err)
	res, err := o.ScheduleNotificationsForKeepsake(context.Background(), "k1", "v1")
	require.NoError(t, err)
	assert.Equal(t, &ScheduleResult{Skipped: 3}, res)

	// a second keepsake of the same vault does not notify again either
	res, err = o.ScheduleNotificationsForKeepsake(context.Background(), "k2", "v1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Skipped)

	for _, id := range []string{"b-trusted", "b-one", "b-two"} {
		assert.Len(t, s.logsFor(id), 1, id)
	}
	assert.Len(t, q.calls, 3)
}

func TestScheduleNotifications_CreateRaceIsSkipped(t *testing.T) {
	s := newMemStore()
	vaultWithBeneficiaries(s)
	s.failWith("NotificationLogs.Create", common.ErrorAlreadyExists)
	q := &recordingQueue{}
	o := newOrchestrator(t, s, q)

	res, err := o.ScheduleNotificationsForKeepsake(context.Background(), "k1", "v1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Skipped)
	assert.Empty(t, q.calls)
}

func TestScheduleNotifications_ServerDefaultDelays(t *testing.T) {
	s := newMemStore()
	vaultWithBeneficiaries(s)
	cfg := testConfig()
	cfg.TrustedPersonDelayHours = 12
	cfg.BeneficiaryDelayHours = 48
	q := &recordingQueue{}
	o := newOrchestratorWithConfig(t, s, q, cfg)

	_, err := o.ScheduleNotificationsForKeepsake(context.Background(), "k1", "v1")
	require.NoError(t, err)
	require.Len(t, q.calls, 3)

	for _, c := range q.calls {
		n := s.logs[c.opts.UniqueID]
		want := 48 * time.Hour
		if *n.BeneficiaryID == "b-trusted" {
			want = 12 * time.Hour
		}
		assert.Equal(t, want, c.opts.Delay, *n.BeneficiaryID)
	}
}

func TestScheduleNotifications_EnqueueFailureLeavesLogPending(t *testing.T) {
	s := newMemStore()
	vaultWithBeneficiaries(s)
	q := &recordingQueue{err: errors.New("redis down")}
	o := newOrchestrator(t, s, q)

	res, err := o.ScheduleNotificationsForKeepsake(context.Background(), "k1", "v1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Failed)
	assert.NotContains(t, s.notified, "k1", "failed fan-out is not stamped")

	logs := s.logsFor("b-one")
	require.Len(t, logs, 1)
	assert.Equal(t, models.NotificationPending, logs[0].Status)
	assert.Zero(t, logs[0].RetryCount)

	// the queue comes back and the sweep picks the pending logs up
	q.err = nil
	o.now = func() time.Time { return testNow.Add(testConfig().RecoveryGrace) }
	n, err := o.RequeueStalled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, q.calls, 3)
	assert.Equal(t, models.NotificationScheduled, s.logsFor("b-one")[0].Status)
	for _, c := range q.calls {
		assert.Equal(t, s.logs[c.opts.UniqueID].ScheduledFor, testNow.Add(testConfig().RecoveryGrace).Add(c.opts.Delay),
			"remaining delay is kept")
	}

	// a later replay of the delivery finds them in flight and stamps it
	res, err = o.ScheduleNotificationsForKeepsake(context.Background(), "k1", "v1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Skipped)
	assert.Contains(t, s.notified, "k1")
}

func TestScheduleNotifications_StampsKeepsakeNotified(t *testing.T) {
	s := newMemStore()
	vaultWithBeneficiaries(s)
	o := newOrchestrator(t, s, &recordingQueue{})

	_, err := o.ScheduleNotificationsForKeepsake(context.Background(), "k1", "v1")
	require.NoError(t, err)
	assert.Equal(t, testNow, s.notified["k1"])
}

func TestRequeueStalled(t *testing.T) {
	s := newMemStore()
	vaultWithBeneficiaries(s)
	q := &recordingQueue{}
	o := newOrchestrator(t, s, q)
	grace := testConfig().RecoveryGrace

	logAt := func(beneficiaryID string, scheduledFor time.Time) *models.NotificationLog {
		keepsakeID, vaultID := "k1", "v1"
		n, err := models.NewNotificationLog(models.NotificationBeneficiaryInvitation, &keepsakeID, &beneficiaryID, &vaultID, scheduledFor, testNow.Add(-time.Hour))
		require.NoError(t, err)
		require.NoError(t, n.MarkAsScheduled(testNow.Add(-time.Hour)))
		return n
	}

	lost := logAt("b-one", testNow.Add(-grace-time.Second))
	notYet := logAt("b-two", testNow.Add(-time.Second))
	retryable := logAt("b-trusted", testNow.Add(-time.Hour))
	require.NoError(t, retryable.MarkAsFailed("smtp", testNow.Add(-time.Hour)))
	exhausted := logAt("b-four", testNow.Add(-time.Hour))
	for i := 0; i < models.MaxNotificationRetries; i++ {
		_ = exhausted.MarkAsFailed("smtp", testNow.Add(-time.Hour))
	}
	for _, n := range []*models.NotificationLog{lost, notYet, retryable, exhausted} {
		s.logs[n.ID] = *n
	}

	n, err := o.RequeueStalled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var ids []string
	for _, c := range q.calls {
		assert.Equal(t, JobTypeNotification, c.jobType)
		assert.LessOrEqual(t, c.opts.Delay, time.Duration(0), "overdue jobs run now")
		ids = append(ids, c.opts.UniqueID)
	}
	assert.ElementsMatch(t, []string{lost.ID, retryable.ID}, ids)
	assert.Equal(t, models.NotificationFailed, s.logs[retryable.ID].Status, "dispatcher decides the retry")
}

func TestRequeueStalled_LoadError(t *testing.T) {
	s := newMemStore()
	s.failWith("NotificationLogs.FindRecoverable", errors.New("db down"))
	o := newOrchestrator(t, s, &recordingQueue{})

	_, err := o.RequeueStalled(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestScheduleNotifications_NoBeneficiaries(t *testing.T) {
	s := newMemStore()
	s.addVault(testVault("v1", "owner"))
	q := &recordingQueue{}
	o := newOrchestrator(t, s, q)

	res, err := o.ScheduleNotificationsForKeepsake(context.Background(), "k1", "v1")
	require.NoError(t, err)
	assert.Equal(t, &ScheduleResult{}, res)
	assert.Empty(t, q.calls)
	assert.Contains(t, s.notified, "k1")
}

func TestScheduleNotifications_VaultNotFound(t *testing.T) {
	o := newOrchestrator(t, newMemStore(), &recordingQueue{})

	_, err := o.ScheduleNotificationsForKeepsake(context.Background(), "k1", "missing")
	assert.ErrorIs(t, err, common.ErrVaultNotFound)
}

func TestCancelForVault(t *testing.T) {
	s := newMemStore()
	vaultWithBeneficiaries(s)
	q := &recordingQueue{}
	o := newOrchestrator(t, s, q)

	_, err := o.ScheduleNotificationsForKeepsake(context.Background(), "k1", "v1")
	require.NoError(t, err)

	n, err := o.CancelForVault(context.Background(), "v1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, models.NotificationCancelled, s.logsFor("b-one")[0].Status)

	// cancelled logs no longer block a new round
	res, err := o.ScheduleNotificationsForKeepsake(context.Background(), "k2", "v1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Scheduled)
}

func TestScheduleAccountCreated(t *testing.T) {
	s := newMemStore()
	vaultWithBeneficiaries(s)
	q := &recordingQueue{}
	o := newOrchestrator(t, s, q)

	require.NoError(t, o.ScheduleAccountCreated(context.Background(), "b-one", "k1", "v1"))

	require.Len(t, q.calls, 1)
	assert.Zero(t, q.calls[0].opts.Delay)
	logs := s.logsFor("b-one")
	require.Len(t, logs, 1)
	assert.Equal(t, models.NotificationAccountCreation, logs[0].Type)
}

func TestScheduleAccountCreated_NotBlockedByPendingInvitation(t *testing.T) {
	s := newMemStore()
	vaultWithBeneficiaries(s)
	q := &recordingQueue{}
	o := newOrchestrator(t, s, q)

	_, err := o.ScheduleNotificationsForKeepsake(context.Background(), "k1", "v1")
	require.NoError(t, err)
	require.Len(t, q.calls, 3)
	require.True(t, s.logsFor("b-one")[0].InFlight())

	require.NoError(t, o.ScheduleAccountCreated(context.Background(), "b-one", "k1", "v1"))
	require.Len(t, q.calls, 4)
	assert.Zero(t, q.calls[3].opts.Delay)

	var types []models.NotificationType
	for _, n := range s.logsFor("b-one") {
		types = append(types, n.Type)
	}
	assert.ElementsMatch(t, []models.NotificationType{
		models.NotificationBeneficiaryInvitation, models.NotificationAccountCreation,
	}, types)

	// a second account-created notice while the first is in flight is skipped
	require.NoError(t, o.ScheduleAccountCreated(context.Background(), "b-one", "k1", "v1"))
	assert.Len(t, q.calls, 4)
}
