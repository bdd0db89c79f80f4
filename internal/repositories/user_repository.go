package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messenger-service/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already exists")
)

// UserRepository abstracts account persistence.
type UserRepository interface {
	CreateUser(ctx context.Context, email, fullName, passwordHash string) (models.User, error)
	GetByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, userID int) (models.User, error)
	ListOthers(ctx context.Context, userID int) ([]models.User, error)
	UpdateProfilePic(ctx context.Context, userID int, url string) (models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, email, full_name, password_hash, profile_pic, created_at`

// CreateUser stores a new account.
func (r *UserRepo) CreateUser(ctx context.Context, email, fullName, passwordHash string) (models.User, error) {
	var user models.User
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO users (email, full_name, password_hash) VALUES ($1, $2, $3) RETURNING `+userColumns,
		email, fullName, passwordHash).StructScan(&user)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return models.User{}, ErrEmailTaken
	}
	return user, err
}

// GetByEmail fetches an account by email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE email=$1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// GetByID fetches an account by id.
func (r *UserRepo) GetByID(ctx context.Context, userID int) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// ListOthers returns every account except the given one.
func (r *UserRepo) ListOthers(ctx context.Context, userID int) ([]models.User, error) {
	var users []models.User
	err := r.db.SelectContext(ctx, &users,
		`SELECT `+userColumns+` FROM users WHERE id<>$1 ORDER BY full_name ASC`, userID)
	return users, err
}

// UpdateProfilePic replaces the profile picture URL.
func (r *UserRepo) UpdateProfilePic(ctx context.Context, userID int, url string) (models.User, error) {
	var user models.User
	err := r.db.QueryRowxContext(ctx,
		`UPDATE users SET profile_pic=$2 WHERE id=$1 RETURNING `+userColumns,
		userID, url).StructScan(&user)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}
