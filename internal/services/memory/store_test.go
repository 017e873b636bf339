package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscal-eligibility-engine/internal/models"
)

func TestUpsertRecord_InsertThenUpdate(t *testing.T) {
	store := New()
	ctx := context.Background()
	session := "sess-1"

	first := &models.AccountEligibilityRecord{AccountID: "acc", ProductID: "TICPE", Status: models.RecordStatusEligible, Score: 90, EstimatedGain: 7650, SourceSessionID: &session}
	outcome, err := store.UpsertRecord(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, models.UpsertInserted, outcome)
	createdAt := first.CreatedAt

	store.now = func() time.Time { return createdAt.Add(time.Hour) }
	second := &models.AccountEligibilityRecord{AccountID: "acc", ProductID: "TICPE", Status: models.RecordStatusEligible, Score: 70, EstimatedGain: 9000}
	outcome, err = store.UpsertRecord(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, models.UpsertUpdated, outcome)

	records, err := store.ListRecords(ctx, "acc")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, first.ID, records[0].ID)
	assert.Equal(t, createdAt, records[0].CreatedAt)
	assert.Equal(t, int64(9000), records[0].EstimatedGain)
	require.NotNil(t, records[0].SourceSessionID)
	assert.Equal(t, "sess-1", *records[0].SourceSessionID)
}

func TestUpsertRecord_ConcurrentWritersConverge(t *testing.T) {
	store := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.UpsertRecord(context.Background(), &models.AccountEligibilityRecord{AccountID: "acc", ProductID: "URSSAF", Score: 80})
		}()
	}
	wg.Wait()

	records, err := store.ListRecords(context.Background(), "acc")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSaveSession_MigratedIsTerminal(t *testing.T) {
	store := New()
	ctx := context.Background()
	sess := &models.Session{ID: "s", Token: "tok", State: models.SessionStateMigrated, MigratedAccountID: "acc"}
	require.NoError(t, store.CreateSession(ctx, sess))
	expect := sess.Expect()

	reopened := *sess
	reopened.State = models.SessionStateEvaluated
	assert.ErrorIs(t, store.SaveSession(ctx, &reopened, expect), models.ErrSessionConsumed)

	other := *sess
	other.MigratedAccountID = "someone-else"
	assert.ErrorIs(t, store.SaveSession(ctx, &other, expect), models.ErrSessionConsumed)
	assert.ErrorIs(t, store.SaveSession(ctx, &other, other.Expect()), models.ErrSessionConsumed)

	assert.NoError(t, store.SaveSession(ctx, sess, expect))
}

func TestSaveSession_RequiresTheStateItWasReadIn(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, &models.Session{ID: "s", Token: "tok", State: models.SessionStateEvaluated}))

	stale, err := store.GetSessionByToken(ctx, "tok")
	require.NoError(t, err)
	claimed, err := store.GetSessionByToken(ctx, "tok")
	require.NoError(t, err)

	expect := claimed.Expect()
	require.NoError(t, claimed.Transition(models.SessionStateMigrating))
	claimed.MigratedAccountID = "acc-A"
	require.NoError(t, store.SaveSession(ctx, claimed, expect))

	// a writer holding the evaluated copy can neither reopen nor claim it
	reopen := stale.Expect()
	require.NoError(t, stale.Transition(models.SessionStateCollecting))
	assert.ErrorIs(t, store.SaveSession(ctx, stale, reopen), models.ErrSessionBusy)

	other := *claimed
	other.MigratedAccountID = "acc-B"
	assert.ErrorIs(t, store.SaveSession(ctx, &other, models.SessionExpect{State: models.SessionStateMigrating, AccountID: "acc-B"}), models.ErrSessionBusy)

	claim := claimed.Expect()
	require.NoError(t, claimed.Transition(models.SessionStateMigrated))
	assert.NoError(t, store.SaveSession(ctx, claimed, claim))

	got, err := store.GetSessionByToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "acc-A", got.MigratedAccountID)

	assert.ErrorIs(t, store.SaveSession(ctx, &models.Session{Token: "missing"}, models.SessionExpect{}), models.ErrSessionNotFound)
}

func TestGetSessionByToken_ReturnsCopies(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, &models.Session{ID: "s", Token: "tok", State: models.SessionStateCollecting}))

	got, err := store.GetSessionByToken(ctx, "tok")
	require.NoError(t, err)
	got.State = models.SessionStateEvaluated

	again, err := store.GetSessionByToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateCollecting, again.State)

	_, err = store.GetSessionByToken(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestAppendAnswers_KeepsEveryWrite(t *testing.T) {
	store := New()
	ctx := context.Background()
	ts := time.Date(2025, 10, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendAnswers(ctx, models.OwnerAccount, "acc", []models.Answer{
		{QuestionID: "secteur", Value: models.StringValue("Transport"), Timestamp: ts.Add(time.Second)},
		{QuestionID: "nb_employes", Value: models.NumberValue(3), Timestamp: ts},
		{QuestionID: "nb_employes", Value: models.NumberValue(10), Timestamp: ts},
	}))

	got, err := store.ListAnswers(ctx, models.OwnerAccount, "acc")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "acc", got[0].OwnerID)
	assert.Equal(t, "nb_employes", got[0].QuestionID)
	assert.Equal(t, "secteur", got[2].QuestionID)
	assert.Equal(t, models.NumberValue(10), models.Latest(got)["nb_employes"])

	// a correction stamped with the same instant still wins
	require.NoError(t, store.AppendAnswers(ctx, models.OwnerAccount, "acc", []models.Answer{
		{QuestionID: "nb_employes", Value: models.NumberValue(20), Timestamp: ts},
	}))
	got, err = store.ListAnswers(ctx, models.OwnerAccount, "acc")
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, models.NumberValue(20), models.Latest(got)["nb_employes"])

	none, err := store.ListAnswers(ctx, models.OwnerSession, "acc")
	require.NoError(t, err)
	assert.Empty(t, none)
}
