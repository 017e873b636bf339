package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscal-eligibility-engine/internal/models"
	"fiscal-eligibility-engine/internal/services/catalog"
	"fiscal-eligibility-engine/internal/services/evaluator"
	"fiscal-eligibility-engine/internal/services/migration"
)

// openTestDB connects to DATABASE_URL and applies the schema, or skips.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	db, err := NewFromURL(url)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.ApplySchema(context.Background()))
	return db
}

func TestCatalogRepository_PublishAndLoad(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewCatalogRepository(db)

	doc, err := catalog.DefaultDocument()
	require.NoError(t, err)
	require.NoError(t, repo.Publish(ctx, doc))

	snap, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, doc.Version, snap.Version())
	assert.Len(t, snap.Questions(), len(doc.Questions))

	embedded, err := catalog.Default()
	require.NoError(t, err)
	assert.Equal(t, len(embedded.Products()), len(snap.Products()))
	for _, p := range embedded.Products() {
		assert.Equal(t, embedded.RulesFor(p.ID), snap.RulesFor(p.ID), p.ID)
	}
}

func TestSessionRepository_MigratedGuard(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewSessionRepository(db)

	now := time.Now().UTC().Truncate(time.Microsecond)
	sess := &models.Session{
		ID:        uuid.New().String(),
		Token:     uuid.New().String(),
		State:     models.SessionStateEvaluated,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, repo.CreateSession(ctx, sess))

	expect := sess.Expect()
	sess.State = models.SessionStateMigrating
	sess.MigratedAccountID = "acc-1"
	require.NoError(t, repo.SaveSession(ctx, sess, expect))
	claim := sess.Expect()

	sess.State = models.SessionStateMigrated
	sess.MigratedAt = &now
	require.NoError(t, repo.SaveSession(ctx, sess, claim))

	got, err := repo.GetSessionByToken(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateMigrated, got.State)
	assert.Equal(t, "acc-1", got.MigratedAccountID)

	require.NoError(t, repo.SaveSession(ctx, sess, got.Expect()))

	other := *sess
	other.MigratedAccountID = "acc-2"
	assert.ErrorIs(t, repo.SaveSession(ctx, &other, got.Expect()), models.ErrSessionConsumed)

	other = *sess
	other.State = models.SessionStateEvaluated
	assert.ErrorIs(t, repo.SaveSession(ctx, &other, got.Expect()), models.ErrSessionConsumed)

	_, err = repo.GetSessionByToken(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestSessionRepository_ClaimIsExclusive(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewSessionRepository(db)

	now := time.Now().UTC().Truncate(time.Microsecond)
	sess := &models.Session{
		ID:        uuid.New().String(),
		Token:     uuid.New().String(),
		State:     models.SessionStateEvaluated,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, repo.CreateSession(ctx, sess))
	read := sess.Expect()

	a := *sess
	a.State = models.SessionStateMigrating
	a.MigratedAccountID = "acc-A"
	require.NoError(t, repo.SaveSession(ctx, &a, read))

	b := *sess
	b.State = models.SessionStateMigrating
	b.MigratedAccountID = "acc-B"
	assert.ErrorIs(t, repo.SaveSession(ctx, &b, read), models.ErrSessionBusy)
	assert.ErrorIs(t, repo.SaveSession(ctx, &b, b.Expect()), models.ErrSessionBusy)

	reopened := *sess
	reopened.State = models.SessionStateCollecting
	assert.ErrorIs(t, repo.SaveSession(ctx, &reopened, read), models.ErrSessionBusy)

	got, err := repo.GetSessionByToken(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateMigrating, got.State)
	assert.Equal(t, "acc-A", got.MigratedAccountID)

	assert.ErrorIs(t, repo.SaveSession(ctx, &models.Session{Token: "missing"}, read), models.ErrSessionNotFound)
}

func TestAnswerRepository_SameInstantLastWriteWins(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewAnswerRepository(db)
	owner := uuid.New().String()

	ts := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.AppendAnswers(ctx, models.OwnerAccount, owner, []models.Answer{
		{QuestionID: "secteur", Value: models.StringValue("Transport"), Timestamp: ts},
		{QuestionID: "nb_employes", Value: models.NumberValue(3), Timestamp: ts},
		{QuestionID: "nb_employes", Value: models.NumberValue(10), Timestamp: ts},
	}))

	stored, err := repo.ListAnswers(ctx, models.OwnerAccount, owner)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, models.NumberValue(10), models.Latest(stored)["nb_employes"])

	require.NoError(t, repo.AppendAnswers(ctx, models.OwnerAccount, owner, []models.Answer{
		{QuestionID: "nb_employes", Value: models.NumberValue(20), Timestamp: ts},
	}))
	stored, err = repo.ListAnswers(ctx, models.OwnerAccount, owner)
	require.NoError(t, err)
	require.Len(t, stored, 4)
	assert.Equal(t, models.NumberValue(20), models.Latest(stored)["nb_employes"])

	other, err := repo.ListAnswers(ctx, models.OwnerSession, owner)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRecordRepository_Upsert(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewRecordRepository(db)
	account := uuid.New().String()
	session := "sess-1"

	first := &models.AccountEligibilityRecord{
		AccountID: account, ProductID: "TICPE", Status: models.RecordStatusEligible,
		Score: 90, EstimatedGain: 7650, ConfidenceLevel: models.ConfidenceHigh, SourceSessionID: &session,
	}
	outcome, err := repo.UpsertRecord(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, models.UpsertInserted, outcome)

	second := &models.AccountEligibilityRecord{
		AccountID: account, ProductID: "TICPE", Status: models.RecordStatusEligible,
		Score: 90, EstimatedGain: 9000, ConfidenceLevel: models.ConfidenceMedium,
	}
	outcome, err = repo.UpsertRecord(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, models.UpsertUpdated, outcome)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
	require.NotNil(t, second.SourceSessionID)
	assert.Equal(t, session, *second.SourceSessionID)

	records, err := repo.ListRecords(ctx, account)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(9000), records[0].EstimatedGain)
	assert.Equal(t, models.ConfidenceMedium, records[0].ConfidenceLevel)
}

func TestStore_MigrationEndToEnd(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := NewStore(db)

	snap, err := catalog.Default()
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	sess := &models.Session{
		ID:        uuid.New().String(),
		Token:     uuid.New().String(),
		State:     models.SessionStateCollecting,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, store.CreateSession(ctx, sess))
	require.NoError(t, store.AppendAnswers(ctx, models.OwnerSession, sess.ID, []models.Answer{
		{QuestionID: "nb_employes", Value: models.NumberValue(3), Timestamp: now},
	}))

	answers, err := store.ListAnswers(ctx, models.OwnerSession, sess.ID)
	require.NoError(t, err)
	results, err := evaluator.New(2, nil).Evaluate(ctx, snap, answers)
	require.NoError(t, err)
	expect := sess.Expect()
	require.NoError(t, sess.Transition(models.SessionStateEvaluated))
	sess.Results = results
	sess.CatalogVersion = snap.Version()
	require.NoError(t, store.SaveSession(ctx, sess, expect))

	account := uuid.New().String()
	svc := migration.NewService(store, nil)
	report, err := svc.Migrate(ctx, sess.Token, account)
	require.NoError(t, err)
	assert.Equal(t, migration.StatusCompleted, report.Status)
	assert.Equal(t, []string{"URSSAF"}, report.MigratedProductIDs)

	again, err := svc.Migrate(ctx, sess.Token, account)
	require.NoError(t, err)
	assert.True(t, again.AlreadyMigrated())

	records, err := store.ListRecords(ctx, account)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].SourceSessionID)
	assert.Equal(t, sess.ID, *records[0].SourceSessionID)
}
