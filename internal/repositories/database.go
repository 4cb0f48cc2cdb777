package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq"
	"github.com/rohanverma-dev/kartify-backend/internal/config"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ErrInsufficientStock is returned by stock decrements when the guarded
// update matches no row. Callers that need the remaining quantity receive an
// *InsufficientStockError wrapping it.
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrInvalidTransition is returned by guarded status updates (cancel, pay)
// when the order is no longer in an allowed source state.
var ErrInvalidTransition = errors.New("invalid order state transition")

type Repositories struct {
	DB           *sql.DB
	Product      ProductRepository
	Cart         CartRepository
	Coupon       CouponRepository
	Order        OrderRepository
	User         UserRepository
	Review       ReviewRepository
	Notification NotificationRepository
}

func New(cfg *config.Config) (*Repositories, error) {

	db, err := otelsql.Open("postgres", cfg.Database.GetDSN(),
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Repositories{
		DB:           db,
		Product:      NewProductRepo(db),
		Cart:         NewCartRepo(db),
		Coupon:       NewCouponRepo(db),
		Order:        NewOrderRepo(db),
		User:         NewUserRepo(db),
		Review:       NewReviewRepo(db),
		Notification: NewNotificationRepo(db),
	}, nil
}

func (r *Repositories) Close() error {
	return r.DB.Close()
}
