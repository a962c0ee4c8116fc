package services

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/keepsake/internal/common"
	"github.com/dmitrijs2005/keepsake/internal/dbx"
	"github.com/dmitrijs2005/keepsake/internal/server/events"
	"github.com/dmitrijs2005/keepsake/internal/server/models"
	"github.com/dmitrijs2005/keepsake/internal/server/notify"
	"github.com/dmitrijs2005/keepsake/internal/server/queue"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/accesstokens"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/beneficiaries"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/invitations"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/keepsakes"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/notificationconfigs"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/notificationlogs"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/keepsake/internal/server/repositories/vaults"
	"github.com/stretchr/testify/require"
)

// Tokens are verified against the wall clock, so the fixed test time stays current.
var testNow = time.Now().UTC().Truncate(time.Second)

func fixedNow() time.Time { return testNow }

func newTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

// memStore is an in-memory stand-in for the database. Records are copied
// on the way in and out, like rows.
type memStore struct {
	mu            sync.Mutex
	vaults        map[string]models.Vault
	beneficiaries map[string]models.Beneficiary
	keepsakes     map[string]models.Keepsake
	invitations   map[string]models.BeneficiaryInvitation
	tokens        map[string]models.BeneficiaryAccessToken
	logs          map[string]models.NotificationLog
	configs       map[string]models.NotificationConfig
	notified      map[string]time.Time

	// failures by "Repo.Method" or "Repo.Method:id"
	failures map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		vaults:        map[string]models.Vault{},
		beneficiaries: map[string]models.Beneficiary{},
		keepsakes:     map[string]models.Keepsake{},
		invitations:   map[string]models.BeneficiaryInvitation{},
		tokens:        map[string]models.BeneficiaryAccessToken{},
		logs:          map[string]models.NotificationLog{},
		configs:       map[string]models.NotificationConfig{},
		notified:      map[string]time.Time{},
		failures:      map[string]error{},
	}
}

func (s *memStore) failWith(op string, err error) { s.failures[op] = err }

func (s *memStore) fail(op, id string) error {
	if err, ok := s.failures[op+":"+id]; ok {
		return err
	}
	return s.failures[op]
}

func (s *memStore) addVault(v *models.Vault) { s.vaults[v.ID] = *v }

func (s *memStore) addBeneficiary(b *models.Beneficiary) { s.beneficiaries[b.ID] = *b }

func (s *memStore) addKeepsake(k *models.Keepsake) { s.keepsakes[k.ID] = *k }

func (s *memStore) keepsake(id string) models.Keepsake {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keepsakes[id]
}

func (s *memStore) logsFor(beneficiaryID string) []models.NotificationLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NotificationLog
	for _, n := range s.logs {
		if n.BeneficiaryID != nil && *n.BeneficiaryID == beneficiaryID {
			out = append(out, n)
		}
	}
	return out
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	s *memStore
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Vaults(dbx.DBTX) vaults.Repository             { return fakeVaults{m.s} }
func (m *fakeRepoManager) Beneficiaries(dbx.DBTX) beneficiaries.Repository {
	return fakeBeneficiaries{m.s}
}
func (m *fakeRepoManager) Keepsakes(dbx.DBTX) keepsakes.Repository     { return fakeKeepsakes{m.s} }
func (m *fakeRepoManager) Invitations(dbx.DBTX) invitations.Repository { return fakeInvitations{m.s} }
func (m *fakeRepoManager) AccessTokens(dbx.DBTX) accesstokens.Repository {
	return fakeAccessTokens{m.s}
}
func (m *fakeRepoManager) NotificationLogs(dbx.DBTX) notificationlogs.Repository {
	return fakeLogs{m.s}
}
func (m *fakeRepoManager) NotificationConfigs(dbx.DBTX) notificationconfigs.Repository {
	return fakeConfigs{m.s}
}

// --- vaults ---

type fakeVaults struct{ s *memStore }

func (r fakeVaults) Save(_ context.Context, v *models.Vault) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Vaults.Save", v.ID); err != nil {
		return err
	}
	r.s.vaults[v.ID] = *v
	return nil
}

func (r fakeVaults) FindByID(_ context.Context, id string) (*models.Vault, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.vaults[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &v, nil
}

func (r fakeVaults) FindByUserID(_ context.Context, userID string) (*models.Vault, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, v := range r.s.vaults {
		if v.UserID == userID {
			return &v, nil
		}
	}
	return nil, common.ErrorNotFound
}

// --- beneficiaries ---

type fakeBeneficiaries struct{ s *memStore }

func (r fakeBeneficiaries) Save(_ context.Context, b *models.Beneficiary) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.beneficiaries[b.ID] = *b
	return nil
}

func (r fakeBeneficiaries) FindByID(_ context.Context, id string) (*models.Beneficiary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.beneficiaries[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &b, nil
}

func (r fakeBeneficiaries) FindByVaultID(_ context.Context, vaultID string) ([]*models.Beneficiary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Beneficiaries.FindByVaultID", vaultID); err != nil {
		return nil, err
	}
	var out []*models.Beneficiary
	for _, b := range r.s.beneficiaries {
		if b.VaultID == vaultID {
			b := b
			out = append(out, &b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r fakeBeneficiaries) SetTrustedPerson(_ context.Context, vaultID, beneficiaryID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	target, ok := r.s.beneficiaries[beneficiaryID]
	if !ok || target.VaultID != vaultID {
		return common.ErrBeneficiaryNotFound
	}
	for id, b := range r.s.beneficiaries {
		if b.VaultID == vaultID {
			b.IsTrustedPerson = id == beneficiaryID
			r.s.beneficiaries[id] = b
		}
	}
	return nil
}

// --- keepsakes ---

type fakeKeepsakes struct{ s *memStore }

func (r fakeKeepsakes) Save(_ context.Context, k *models.Keepsake) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if cur, ok := r.s.keepsakes[k.ID]; ok && cur.Status == models.KeepsakeDelivered {
		return common.ErrVersionConflict
	}
	r.s.keepsakes[k.ID] = *k
	return nil
}

func (r fakeKeepsakes) FindByID(_ context.Context, id string) (*models.Keepsake, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k, ok := r.s.keepsakes[id]
	if !ok || k.DeletedAt != nil {
		return nil, common.ErrorNotFound
	}
	return &k, nil
}

func (r fakeKeepsakes) list(match func(models.Keepsake) bool) []*models.Keepsake {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Keepsake
	for _, k := range r.s.keepsakes {
		if k.DeletedAt == nil && match(k) {
			k := k
			out = append(out, &k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r fakeKeepsakes) ListByVault(_ context.Context, vaultID string) ([]*models.Keepsake, error) {
	return r.list(func(k models.Keepsake) bool { return k.VaultID == vaultID }), nil
}

func (r fakeKeepsakes) FindScheduledByTrigger(_ context.Context, vaultID string, trigger models.TriggerCondition) ([]*models.Keepsake, error) {
	return r.list(func(k models.Keepsake) bool {
		return k.VaultID == vaultID && k.Trigger == trigger && k.Status == models.KeepsakeScheduled
	}), nil
}

func (r fakeKeepsakes) FindDueOnDate(_ context.Context, now time.Time) ([]*models.Keepsake, error) {
	return r.list(func(k models.Keepsake) bool { return k.IsDue(now) }), nil
}

func (r fakeKeepsakes) FindDeliveredByVault(_ context.Context, vaultID string) ([]*models.Keepsake, error) {
	return r.list(func(k models.Keepsake) bool {
		return k.VaultID == vaultID && k.Status == models.KeepsakeDelivered
	}), nil
}

func (r fakeKeepsakes) MarkDelivered(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Keepsakes.MarkDelivered", id); err != nil {
		return err
	}
	k, ok := r.s.keepsakes[id]
	if !ok || k.Status != models.KeepsakeScheduled {
		return common.ErrVersionConflict
	}
	k.Status = models.KeepsakeDelivered
	k.UpdatedAt = at
	r.s.keepsakes[id] = k
	return nil
}

func (r fakeKeepsakes) FindVaultsAwaitingDeathDelivery(context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, k := range r.list(func(k models.Keepsake) bool {
		return k.Trigger == models.TriggerOnDeath && k.Status == models.KeepsakeScheduled
	}) {
		r.s.mu.Lock()
		v, ok := r.s.vaults[k.VaultID]
		r.s.mu.Unlock()
		if ok && v.Status == models.VaultUnsealed && !seen[k.VaultID] {
			seen[k.VaultID] = true
			out = append(out, k.VaultID)
		}
	}
	return out, nil
}

func (r fakeKeepsakes) FindUnnotifiedDeliveries(_ context.Context, cutoff time.Time, limit int) ([]*models.Keepsake, error) {
	r.s.mu.Lock()
	notified := make(map[string]bool, len(r.s.notified))
	for id := range r.s.notified {
		notified[id] = true
	}
	r.s.mu.Unlock()

	out := r.list(func(k models.Keepsake) bool {
		return k.Status == models.KeepsakeDelivered && !notified[k.ID] && !k.UpdatedAt.After(cutoff)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r fakeKeepsakes) MarkNotified(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Keepsakes.MarkNotified", id); err != nil {
		return err
	}
	if _, ok := r.s.notified[id]; !ok {
		r.s.notified[id] = at
	}
	return nil
}

// --- invitations ---

type fakeInvitations struct{ s *memStore }

func (r fakeInvitations) Save(_ context.Context, inv *models.BeneficiaryInvitation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.invitations[inv.ID] = *inv
	return nil
}

func (r fakeInvitations) FindByID(_ context.Context, id string) (*models.BeneficiaryInvitation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invitations[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &inv, nil
}

func (r fakeInvitations) FindByToken(_ context.Context, token string) (*models.BeneficiaryInvitation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, inv := range r.s.invitations {
		if inv.Token == token {
			return &inv, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r fakeInvitations) FindLatest(_ context.Context, beneficiaryID, keepsakeID string) (*models.BeneficiaryInvitation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *models.BeneficiaryInvitation
	for _, inv := range r.s.invitations {
		if inv.BeneficiaryID == beneficiaryID && inv.KeepsakeID == keepsakeID {
			if latest == nil || inv.CreatedAt.After(latest.CreatedAt) {
				inv := inv
				latest = &inv
			}
		}
	}
	if latest == nil {
		return nil, common.ErrorNotFound
	}
	return latest, nil
}

// --- access tokens ---

type fakeAccessTokens struct{ s *memStore }

func (r fakeAccessTokens) Save(_ context.Context, t *models.BeneficiaryAccessToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("AccessTokens.Save", t.BeneficiaryID); err != nil {
		return err
	}
	r.s.tokens[t.ID] = *t
	return nil
}

func (r fakeAccessTokens) FindByToken(_ context.Context, token string) (*models.BeneficiaryAccessToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tokens {
		if t.Token == token {
			return &t, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r fakeAccessTokens) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, t := range r.s.tokens {
		if t.ExpiresAt.Before(before) {
			delete(r.s.tokens, id)
			n++
		}
	}
	return n, nil
}

// --- notification logs ---

type fakeLogs struct{ s *memStore }

func (r fakeLogs) Create(_ context.Context, n *models.NotificationLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("NotificationLogs.Create", ""); err != nil {
		return err
	}
	for _, cur := range r.s.logs {
		if cur.InFlight() && sameDedupClass(cur.Type, n.Type) &&
			eqPtr(cur.BeneficiaryID, n.BeneficiaryID) && eqPtr(cur.VaultID, n.VaultID) {
			return common.ErrorAlreadyExists
		}
	}
	r.s.logs[n.ID] = *n
	return nil
}

func (r fakeLogs) Save(_ context.Context, n *models.NotificationLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.logs[n.ID] = *n
	return nil
}

func (r fakeLogs) FindByID(_ context.Context, id string) (*models.NotificationLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.logs[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &n, nil
}

func (r fakeLogs) FindInFlight(_ context.Context, beneficiaryID, vaultID string, typ models.NotificationType) (*models.NotificationLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, n := range r.s.logs {
		if n.InFlight() && sameDedupClass(n.Type, typ) &&
			eqPtr(n.BeneficiaryID, &beneficiaryID) && eqPtr(n.VaultID, &vaultID) {
			return &n, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r fakeLogs) FindRecoverable(_ context.Context, cutoff time.Time, limit int) ([]*models.NotificationLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("NotificationLogs.FindRecoverable", ""); err != nil {
		return nil, err
	}
	var out []*models.NotificationLog
	for _, n := range r.s.logs {
		stalled := (n.Status == models.NotificationPending && !n.CreatedAt.After(cutoff)) ||
			(n.Status == models.NotificationScheduled && !n.ScheduledFor.After(cutoff)) ||
			(n.CanRetry() && !n.UpdatedAt.After(cutoff))
		if stalled {
			n := n
			out = append(out, &n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r fakeLogs) ListByVault(_ context.Context, vaultID string) ([]*models.NotificationLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.NotificationLog
	for _, n := range r.s.logs {
		if eqPtr(n.VaultID, &vaultID) {
			n := n
			out = append(out, &n)
		}
	}
	return out, nil
}

func (r fakeLogs) CancelInFlightForVault(_ context.Context, vaultID string, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var count int64
	for id, n := range r.s.logs {
		if n.InFlight() && eqPtr(n.VaultID, &vaultID) {
			n.Status = models.NotificationCancelled
			n.UpdatedAt = at
			r.s.logs[id] = n
			count++
		}
	}
	return count, nil
}

// --- notification configs ---

type fakeConfigs struct{ s *memStore }

func (r fakeConfigs) Save(_ context.Context, c *models.NotificationConfig) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.configs[c.VaultID] = *c
	return nil
}

func (r fakeConfigs) FindByVaultID(_ context.Context, vaultID string) (*models.NotificationConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.configs[vaultID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &c, nil
}

func sameDedupClass(a, b models.NotificationType) bool {
	return (a == models.NotificationAccountCreation) == (b == models.NotificationAccountCreation)
}

func eqPtr(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

// --- collaborators ---

type recordingPublisher struct {
	mu        sync.Mutex
	delivered []events.KeepsakeDelivered
	deaths    []events.DeathDeclared
	err       error
}

func (p *recordingPublisher) PublishDelivered(_ context.Context, e events.KeepsakeDelivered) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delivered = append(p.delivered, e)
	return p.err
}

func (p *recordingPublisher) PublishDeathDeclared(_ context.Context, e events.DeathDeclared) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deaths = append(p.deaths, e)
	return p.err
}

type enqueueCall struct {
	jobType string
	payload any
	opts    queue.EnqueueOptions
}

type recordingQueue struct {
	queue.Queue
	mu    sync.Mutex
	calls []enqueueCall
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, jobType string, payload any, opts queue.EnqueueOptions) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.calls = append(q.calls, enqueueCall{jobType: jobType, payload: payload, opts: opts})
	return opts.UniqueID, nil
}

type sentMessage struct {
	kind string
	to   notify.Recipient
	link notify.InvitationLink
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *recordingSender) record(m sentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, m)
	return nil
}

func (s *recordingSender) SendTrustedPersonAlert(_ context.Context, to notify.Recipient, vaultID string) error {
	return s.record(sentMessage{kind: "trusted", to: to, link: notify.InvitationLink{VaultID: vaultID}})
}

func (s *recordingSender) SendBeneficiaryInvitation(_ context.Context, to notify.Recipient, link notify.InvitationLink) error {
	return s.record(sentMessage{kind: "invitation", to: to, link: link})
}

func (s *recordingSender) SendBeneficiaryAccountCreated(_ context.Context, to notify.Recipient, vaultID string) error {
	return s.record(sentMessage{kind: "account", to: to, link: notify.InvitationLink{VaultID: vaultID}})
}

// --- fixtures ---

func testVault(id, userID string) *models.Vault {
	return &models.Vault{
		ID:        id,
		UserID:    userID,
		Salt:      []byte("0123456789abcdef0123456789abcdef"),
		Status:    models.VaultActive,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
}

func scheduledKeepsake(id, vaultID string, trigger models.TriggerCondition) *models.Keepsake {
	return &models.Keepsake{
		ID:        id,
		VaultID:   vaultID,
		Type:      models.KeepsakeLetter,
		Title:     "letter " + id,
		Trigger:   trigger,
		Status:    models.KeepsakeScheduled,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
}
