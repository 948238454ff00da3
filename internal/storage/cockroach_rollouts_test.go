package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nexuscore/runtime/pkg/models"
)

func TestCockroachRolloutStoreSaveRolloutInsertsRolloutAndAttempts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	store := NewCockroachRolloutStore(db)

	r := &models.Rollout{
		RolloutID: "r1",
		SessionID: "s1",
		ChannelID: 1,
		Status:    models.RolloutSucceeded,
		CreatedAt: time.Now(),
		Attempts: []*models.Attempt{
			{AttemptIdx: 0, Succeeded: true, StartedAt: time.Now()},
		},
	}

	mock.ExpectExec("INSERT INTO rollouts").WithArgs(
		r.RolloutID, r.SessionID, r.ChannelID, r.Status, sqlmock.AnyArg(), r.ResourcesID,
		r.CreatedAt, r.CompletedAt, r.DurationMs, r.Result, r.Error, sqlmock.AnyArg(),
	).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO attempts").WithArgs(
		r.RolloutID, 0, r.Attempts[0].StartedAt, r.Attempts[0].CompletedAt, true,
		r.Attempts[0].Error, nil, 0, 0, 0,
	).WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.SaveRollout(context.Background(), r); err != nil {
		t.Fatalf("SaveRollout() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCockroachRolloutStoreGetRolloutMissingReturnsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	store := NewCockroachRolloutStore(db)

	mock.ExpectQuery("SELECT rollout_id, session_id, channel_id, status").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(nil))

	if _, err := store.GetRollout(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
