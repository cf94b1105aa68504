package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return Wrap(sqlDB), mock
}

var userCols = []string{"id", "name", "email", "password_hash", "profile_picture", "created_at", "updated_at"}

func TestUserRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	now := time.Now()
	user := &User{ID: uuid.New(), Name: "A", Email: "a@x.com", PasswordHash: "hash", CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+users`).
		WithArgs(user.ID, "A", "a@x.com", "hash", nil, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), user))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Create_DuplicateEmail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+users`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := repo.Create(context.Background(), &User{ID: uuid.New(), Email: "a@x.com"})
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestUserRepository_Create_DBError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+users`).WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), &User{ID: uuid.New()})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmailExists)
	assert.Regexp(t, `db error: .*db down`, err.Error())
}

func TestUserRepository_GetByEmail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	id := uuid.New()
	now := time.Now()
	pic := "https://cdn.test/p.png"
	mock.ExpectQuery(`(?s)SELECT .* FROM users WHERE email = \$1`).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(id.String(), "A", "a@x.com", "hash", pic, now, now))

	user, err := repo.GetByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, "A", user.Name)
	require.NotNil(t, user.ProfilePicture)
	assert.Equal(t, pic, *user.ProfilePicture)
}

func TestUserRepository_GetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery(`(?s)SELECT .* FROM users WHERE id = \$1`).WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_Update_OnlyProvidedColumns(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	id := uuid.New()
	now := time.Now()
	name := "B"

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE users SET name = $1, updated_at = $2 WHERE id = $3 RETURNING`)).
		WithArgs("B", now, id).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(id.String(), "B", "a@x.com", "hash", nil, now, now))

	user, err := repo.Update(context.Background(), id, UserPatch{Name: &name}, now)
	require.NoError(t, err)
	assert.Equal(t, "B", user.Name)
	assert.Equal(t, "a@x.com", user.Email)
	assert.Nil(t, user.ProfilePicture)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Update_Errors(t *testing.T) {
	email := "taken@x.com"

	t.Run("missing user", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(`UPDATE users`).WillReturnError(sql.ErrNoRows)
		_, err := NewUserRepository(db).Update(context.Background(), uuid.New(), UserPatch{Email: &email}, time.Now())
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("email conflict", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(`UPDATE users`).WillReturnError(&pq.Error{Code: "23505"})
		_, err := NewUserRepository(db).Update(context.Background(), uuid.New(), UserPatch{Email: &email}, time.Now())
		assert.ErrorIs(t, err, ErrEmailExists)
	})
}

func TestUserRepository_Update_EmptyPatchReads(t *testing.T) {
	db, mock := newMockDB(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`(?s)SELECT .* FROM users WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(id.String(), "A", "a@x.com", "hash", nil, now, now))

	user, err := NewUserRepository(db).Update(context.Background(), id, UserPatch{}, now)
	require.NoError(t, err)
	assert.Equal(t, "A", user.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepository(db)

	now := time.Now()
	msg := &Message{ID: uuid.New(), SenderID: uuid.New(), Body: "hello", CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+messages`).
		WithArgs(msg.ID, msg.SenderID, nil, "hello", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), msg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_ListWithSenders(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepository(db)

	sender := uuid.New()
	now := time.Now()
	cols := []string{"id", "sender_id", "receiver_id", "message", "created_at", "updated_at", "sender_name", "sender_profile_picture"}
	mock.ExpectQuery(`(?s)SELECT .* FROM messages m\s+JOIN users u ON u.id = m.sender_id\s+ORDER BY m.created_at ASC`).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(uuid.New().String(), sender.String(), nil, "first", now, now, "A", nil).
			AddRow(uuid.New().String(), sender.String(), nil, "second", now.Add(time.Second), now, "A", "https://cdn.test/a.png"))

	got, err := repo.ListWithSenders(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Body)
	assert.Equal(t, "A", got[0].SenderName)
	assert.False(t, got[0].ReceiverID.Valid)
	require.NotNil(t, got[1].SenderProfilePicture)
}

func TestMessageRepository_ListWithSenders_Empty(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	got, err := NewMessageRepository(db).ListWithSenders(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got, "empty list must serialize as []")
	assert.Empty(t, got)
}

func TestMigrate_UsesEmbeddedFS(t *testing.T) {
	db, _ := newMockDB(t)

	called := false
	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, _ *sql.DB, dir string, _ ...goose.OptionsFunc) error {
		called = true
		assert.Equal(t, ".", dir)
		return nil
	}
	defer func() { gooseUpContext = orig }()

	require.NoError(t, db.Migrate(context.Background()))
	assert.True(t, called)
}

func TestMigrate_PropagatesError(t *testing.T) {
	db, _ := newMockDB(t)

	orig := gooseUpContext
	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	defer func() { gooseUpContext = orig }()

	err := db.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestUser_JSONOmitsPasswordHash(t *testing.T) {
	u := User{ID: uuid.New(), Name: "A", Email: "a@x.com", PasswordHash: "$2a$10$secrethash"}

	data, err := json.Marshal(u)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secrethash")
	assert.NotContains(t, string(data), "password")
	assert.Contains(t, string(data), `"email":"a@x.com"`)
}
