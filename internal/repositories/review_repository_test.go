package repository_test

import (
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	repository "github.com/rohanverma-dev/kartify-backend/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupReviewRepoTest(t *testing.T) (repository.ReviewRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Failed to create sqlmock")

	t.Cleanup(func() {
		db.Close()
	})

	repo := repository.NewReviewRepo(db)
	require.NotNil(t, repo, "NewReviewRepo should return a non-nil repository")

	return repo, mock
}

var (
	reviewInsertSQL    = regexp.QuoteMeta(`INSERT INTO product_reviews (product_id, user_id, name, rating, comment)`)
	ratingAggregateSQL = regexp.QuoteMeta(`SET rating_avg = (rating_avg * rating_count + $2) / (rating_count + 1)`)
	reviewSelectSQL    = regexp.QuoteMeta(`SELECT id, product_id, user_id, name, rating, comment, created_at`)
)

func TestAddReview(t *testing.T) {

	review := func() *models.Review {
		return &models.Review{
			ProductID: uuid.New(),
			UserID:    uuid.New(),
			Name:      "Asha Rao",
			Rating:    4,
			Comment:   "Solid build",
		}
	}

	t.Run("Success - review inserted and aggregates updated", func(t *testing.T) {
		// Arrange
		repo, mock := setupReviewRepoTest(t)
		ctx := t.Context()
		rev := review()
		reviewID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(reviewInsertSQL).
			WithArgs(rev.ProductID, rev.UserID, rev.Name, rev.Rating, rev.Comment).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(reviewID, time.Now()))
		mock.ExpectExec(ratingAggregateSQL).
			WithArgs(rev.ProductID, rev.Rating).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		// Act
		err := repo.AddReview(ctx, rev)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, reviewID, rev.ID)
		assert.False(t, rev.CreatedAt.IsZero())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Failure - second review for the same product", func(t *testing.T) {
		// Arrange
		repo, mock := setupReviewRepoTest(t)
		ctx := t.Context()
		rev := review()

		mock.ExpectBegin()
		mock.ExpectQuery(reviewInsertSQL).
			WithArgs(rev.ProductID, rev.UserID, rev.Name, rev.Rating, rev.Comment).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "product_reviews_product_id_user_id_key"})
		mock.ExpectRollback()

		// Act
		err := repo.AddReview(ctx, rev)

		// Assert
		require.Error(t, err)
		assert.ErrorIs(t, err, repository.ErrDuplicateReview)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Failure - product vanished before aggregate update", func(t *testing.T) {
		// Arrange
		repo, mock := setupReviewRepoTest(t)
		ctx := t.Context()
		rev := review()

		mock.ExpectBegin()
		mock.ExpectQuery(reviewInsertSQL).
			WithArgs(rev.ProductID, rev.UserID, rev.Name, rev.Rating, rev.Comment).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New(), time.Now()))
		mock.ExpectExec(ratingAggregateSQL).
			WithArgs(rev.ProductID, rev.Rating).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		// Act
		err := repo.AddReview(ctx, rev)

		// Assert
		require.Error(t, err)
		assert.ErrorIs(t, err, sql.ErrNoRows)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Failure - insert error rolls back", func(t *testing.T) {
		// Arrange
		repo, mock := setupReviewRepoTest(t)
		ctx := t.Context()
		rev := review()
		dbErr := errors.New("connection reset")

		mock.ExpectBegin()
		mock.ExpectQuery(reviewInsertSQL).
			WithArgs(rev.ProductID, rev.UserID, rev.Name, rev.Rating, rev.Comment).
			WillReturnError(dbErr)
		mock.ExpectRollback()

		// Act
		err := repo.AddReview(ctx, rev)

		// Assert
		require.Error(t, err)
		assert.ErrorIs(t, err, dbErr)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListByProduct(t *testing.T) {

	reviewColumns := []string{"id", "product_id", "user_id", "name", "rating", "comment", "created_at"}

	t.Run("Success - newest first", func(t *testing.T) {
		// Arrange
		repo, mock := setupReviewRepoTest(t)
		ctx := t.Context()
		productID := uuid.New()

		rows := sqlmock.NewRows(reviewColumns).
			AddRow(uuid.New(), productID, uuid.New(), "Asha Rao", 5, "Great", time.Now()).
			AddRow(uuid.New(), productID, uuid.New(), "Ravi K", 3, "Okay", time.Now().Add(-time.Hour))

		mock.ExpectQuery(reviewSelectSQL).WithArgs(productID).WillReturnRows(rows)

		// Act
		reviews, err := repo.ListByProduct(ctx, productID)

		// Assert
		require.NoError(t, err)
		require.Len(t, reviews, 2)
		assert.Equal(t, "Asha Rao", reviews[0].Name)
		assert.Equal(t, 5, reviews[0].Rating)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Success - no reviews yet", func(t *testing.T) {
		// Arrange
		repo, mock := setupReviewRepoTest(t)
		ctx := t.Context()
		productID := uuid.New()

		mock.ExpectQuery(reviewSelectSQL).WithArgs(productID).
			WillReturnRows(sqlmock.NewRows(reviewColumns))

		// Act
		reviews, err := repo.ListByProduct(ctx, productID)

		// Assert
		require.NoError(t, err)
		assert.Empty(t, reviews)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Failure - query error", func(t *testing.T) {
		// Arrange
		repo, mock := setupReviewRepoTest(t)
		ctx := t.Context()

		mock.ExpectQuery(reviewSelectSQL).WillReturnError(errors.New("connection reset"))

		// Act
		reviews, err := repo.ListByProduct(ctx, uuid.New())

		// Assert
		require.Error(t, err)
		assert.Nil(t, reviews)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
