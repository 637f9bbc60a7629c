package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/prn-tf/alexander-library/internal/domain"
	"github.com/prn-tf/alexander-library/internal/repository"
)

const userColumns = `library_id, full_name, father_name, mobile, email, password_hash,
	college_name, enrollment_number, branch, year, dob, gender, address,
	security_question, security_answer_hash, registered_at, updated_at`

// userRepository implements repository.UserRepository.
type userRepository struct {
	db *DB
}

// NewUserRepository creates a new PostgreSQL user repository.
func NewUserRepository(db *DB) repository.UserRepository {
	return &userRepository{db: db}
}

// Create creates a new user.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		user.LibraryID,
		user.FullName,
		user.FatherName,
		user.Mobile,
		user.Email,
		user.PasswordHash,
		user.CollegeName,
		user.EnrollmentNumber,
		user.Branch,
		user.Year,
		user.DateOfBirth,
		user.Gender,
		user.Address,
		user.SecurityQuestion,
		user.SecurityAnswerHash,
		user.RegisteredAt,
		user.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: email, mobile or enrollment number already registered", domain.ErrUserAlreadyExists)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByLibraryID retrieves a user by library ID.
func (r *userRepository) GetByLibraryID(ctx context.Context, libraryID string) (*domain.User, error) {
	return r.getBy(ctx, "library_id", libraryID)
}

// GetByEmail retrieves a user by email.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getBy(ctx, "email", email)
}

func (r *userRepository) getBy(ctx context.Context, column, value string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = $1`

	user := &domain.User{}
	err := r.db.Pool.QueryRow(ctx, query, value).Scan(
		&user.LibraryID,
		&user.FullName,
		&user.FatherName,
		&user.Mobile,
		&user.Email,
		&user.PasswordHash,
		&user.CollegeName,
		&user.EnrollmentNumber,
		&user.Branch,
		&user.Year,
		&user.DateOfBirth,
		&user.Gender,
		&user.Address,
		&user.SecurityQuestion,
		&user.SecurityAnswerHash,
		&user.RegisteredAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by %s: %w", column, err)
	}

	return user, nil
}

// Update updates an existing user.
func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	user.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE users
		SET full_name = $1, father_name = $2, mobile = $3, email = $4, password_hash = $5,
		    college_name = $6, branch = $7, year = $8, gender = $9, address = $10,
		    security_question = $11, security_answer_hash = $12, updated_at = $13
		WHERE library_id = $14
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		user.FullName,
		user.FatherName,
		user.Mobile,
		user.Email,
		user.PasswordHash,
		user.CollegeName,
		user.Branch,
		user.Year,
		user.Gender,
		user.Address,
		user.SecurityQuestion,
		user.SecurityAnswerHash,
		user.UpdatedAt,
		user.LibraryID,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: email or mobile already registered", domain.ErrUserAlreadyExists)
		}
		return fmt.Errorf("failed to update user: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}

	return nil
}

// ExistsByEmail checks if a user with the given email exists.
func (r *userRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, "email", email)
}

// ExistsByMobile checks if a user with the given mobile number exists.
func (r *userRepository) ExistsByMobile(ctx context.Context, mobile string) (bool, error) {
	return r.exists(ctx, "mobile", mobile)
}

// ExistsByEnrollment checks if a user with the given enrollment number exists.
func (r *userRepository) ExistsByEnrollment(ctx context.Context, enrollmentNumber string) (bool, error) {
	return r.exists(ctx, "enrollment_number", enrollmentNumber)
}

func (r *userRepository) exists(ctx context.Context, column, value string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE `+column+` = $1)`, value).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check %s existence: %w", column, err)
	}
	return exists, nil
}

// Ensure userRepository implements repository.UserRepository.
var _ repository.UserRepository = (*userRepository)(nil)
