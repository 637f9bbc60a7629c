package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/prn-tf/alexander-library/internal/domain"
	"github.com/prn-tf/alexander-library/internal/pkg/crypto"
	"github.com/prn-tf/alexander-library/internal/repository"
)

const (
	// libraryIDAttempts bounds retries on a library ID collision.
	libraryIDAttempts = 5

	dateLayout = "2006-01-02"
)

// AccountService handles reader registration and authentication.
type AccountService struct {
	userRepo repository.UserRepository
	logger   zerolog.Logger
	hashCost int
}

// NewAccountService creates a new AccountService.
func NewAccountService(userRepo repository.UserRepository, logger zerolog.Logger) *AccountService {
	return &AccountService{
		userRepo: userRepo,
		logger:   logger.With().Str("service", "account").Logger(),
		hashCost: 10,
	}
}

// WithHashCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func (s *AccountService) WithHashCost(cost int) *AccountService {
	s.hashCost = cost
	return s
}

// RegisterInput contains the registration form.
type RegisterInput struct {
	FullName         string `json:"fullName" validate:"required"`
	FatherName       string `json:"fatherName"`
	Mobile           string `json:"mobile" validate:"required,len=10,number"`
	Email            string `json:"email" validate:"required,email"`
	Password         string `json:"password" validate:"required,min=6"`
	CollegeName      string `json:"collegeName" validate:"required"`
	EnrollmentNumber string `json:"enrollmentNumber" validate:"required"`
	Branch           string `json:"branch" validate:"required"`
	Year             string `json:"year"`
	DateOfBirth      string `json:"dob" validate:"required,datetime=2006-01-02"`
	Gender           string `json:"gender" validate:"required"`
	Address          string `json:"address" validate:"required"`
	SecurityQuestion string `json:"securityQuestion" validate:"required"`
	SecurityAnswer   string `json:"securityAnswer" validate:"required"`
}

// Register creates a reader account and assigns a library ID.
// The password is hashed here, before anything reaches the store.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	input = normalizeRegister(input)

	if err := validateInput(input); err != nil {
		return nil, err
	}
	dob, err := time.Parse(dateLayout, input.DateOfBirth)
	if err != nil {
		return nil, ErrInvalidDate
	}

	checks := []struct {
		field  string
		value  string
		exists func(context.Context, string) (bool, error)
	}{
		{"email", input.Email, s.userRepo.ExistsByEmail},
		{"mobile number", input.Mobile, s.userRepo.ExistsByMobile},
		{"enrollment number", input.EnrollmentNumber, s.userRepo.ExistsByEnrollment},
	}
	for _, c := range checks {
		exists, err := c.exists(ctx, c.value)
		if err != nil {
			s.logger.Error().Err(err).Str("field", c.field).Msg("failed to check user existence")
			return nil, storeError(err)
		}
		if exists {
			return nil, fmt.Errorf("%w: %s '%s'", domain.ErrUserAlreadyExists, c.field, c.value)
		}
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.hashCost)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to hash password")
		return nil, fmt.Errorf("%w: failed to hash password", ErrInternalError)
	}
	answerHash, err := bcrypt.GenerateFromPassword([]byte(normalizeAnswer(input.SecurityAnswer)), s.hashCost)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to hash security answer")
		return nil, fmt.Errorf("%w: failed to hash security answer", ErrInternalError)
	}

	libraryID, err := s.newLibraryID(ctx)
	if err != nil {
		return nil, err
	}

	user := domain.NewUser(libraryID, input.FullName, input.Email, input.Mobile, string(passwordHash))
	user.FatherName = input.FatherName
	user.CollegeName = input.CollegeName
	user.EnrollmentNumber = input.EnrollmentNumber
	user.Branch = input.Branch
	user.Year = input.Year
	user.DateOfBirth = dob
	user.Gender = input.Gender
	user.Address = input.Address
	user.SecurityQuestion = input.SecurityQuestion
	user.SecurityAnswerHash = string(answerHash)

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrUserAlreadyExists) {
			return nil, err
		}
		s.logger.Error().Err(err).Str("email", user.Email).Msg("failed to create user")
		return nil, storeError(err)
	}

	s.logger.Info().
		Str("library_id", user.LibraryID).
		Str("email", user.Email).
		Msg("user registered")

	return user, nil
}

// Login verifies an email and password.
// Unknown emails and wrong passwords both return domain.ErrInvalidCredentials.
func (s *AccountService) Login(ctx context.Context, email, password string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password", ErrMissingField)
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			// Don't expose whether the email exists
			s.logger.Debug().Str("email", email).Msg("user not found during login")
			return nil, domain.ErrInvalidCredentials
		}
		s.logger.Error().Err(err).Str("email", email).Msg("failed to get user")
		return nil, storeError(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Debug().Str("email", email).Msg("invalid password during login")
		return nil, domain.ErrInvalidCredentials
	}

	s.logger.Info().Str("library_id", user.LibraryID).Msg("user logged in")
	return user, nil
}

// Get returns a reader by library ID.
func (s *AccountService) Get(ctx context.Context, libraryID string) (*domain.User, error) {
	user, err := s.userRepo.GetByLibraryID(ctx, strings.TrimSpace(libraryID))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
		s.logger.Error().Err(err).Str("library_id", libraryID).Msg("failed to get user")
		return nil, storeError(err)
	}
	return user, nil
}

// ChangePasswordInput contains the data needed to change a password.
type ChangePasswordInput struct {
	LibraryID   string `json:"libraryId"`
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword" validate:"required,min=6"`
}

// ChangePassword replaces a password after checking the current one.
func (s *AccountService) ChangePassword(ctx context.Context, input ChangePasswordInput) error {
	user, err := s.Get(ctx, input.LibraryID)
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.OldPassword)); err != nil {
		return domain.ErrInvalidCredentials
	}
	if err := validateInput(input); err != nil {
		return err
	}

	return s.setPassword(ctx, user, input.NewPassword)
}

// ResetPasswordInput contains the data needed to recover an account.
type ResetPasswordInput struct {
	Email          string `json:"email"`
	SecurityAnswer string `json:"securityAnswer"`
	NewPassword    string `json:"newPassword" validate:"required,min=6"`
}

// SecurityQuestion returns the recovery question registered for an email.
func (s *AccountService) SecurityQuestion(ctx context.Context, email string) (string, error) {
	user, err := s.userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return "", err
		}
		return "", storeError(err)
	}
	return user.SecurityQuestion, nil
}

// ResetPassword sets a new password when the security answer matches.
func (s *AccountService) ResetPassword(ctx context.Context, input ResetPasswordInput) error {
	user, err := s.userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(input.Email)))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.ErrInvalidCredentials
		}
		return storeError(err)
	}

	answer := normalizeAnswer(input.SecurityAnswer)
	if err := bcrypt.CompareHashAndPassword([]byte(user.SecurityAnswerHash), []byte(answer)); err != nil {
		s.logger.Debug().Str("library_id", user.LibraryID).Msg("wrong security answer")
		return domain.ErrInvalidCredentials
	}
	if err := validateInput(input); err != nil {
		return err
	}

	return s.setPassword(ctx, user, input.NewPassword)
}

func (s *AccountService) setPassword(ctx context.Context, user *domain.User, password string) error {
	newHash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return fmt.Errorf("%w: failed to hash password", ErrInternalError)
	}

	user.PasswordHash = string(newHash)
	user.UpdatedAt = time.Now().UTC()

	if err := s.userRepo.Update(ctx, user); err != nil {
		s.logger.Error().Err(err).Str("library_id", user.LibraryID).Msg("failed to update password")
		return storeError(err)
	}

	s.logger.Info().Str("library_id", user.LibraryID).Msg("password updated")
	return nil
}

// newLibraryID draws IDs until one is unused.
func (s *AccountService) newLibraryID(ctx context.Context) (string, error) {
	for i := 0; i < libraryIDAttempts; i++ {
		id, err := crypto.GenerateLibraryID()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInternalError, err)
		}

		_, err = s.userRepo.GetByLibraryID(ctx, id)
		if errors.Is(err, domain.ErrUserNotFound) {
			return id, nil
		}
		if err != nil {
			return "", storeError(err)
		}
		s.logger.Warn().Str("library_id", id).Msg("library ID collision, drawing again")
	}
	return "", fmt.Errorf("%w: could not allocate a library ID", ErrInternalError)
}

func normalizeRegister(in RegisterInput) RegisterInput {
	trim := strings.TrimSpace
	in.FullName = trim(in.FullName)
	in.FatherName = trim(in.FatherName)
	in.Mobile = trim(in.Mobile)
	in.Email = strings.ToLower(trim(in.Email))
	in.CollegeName = trim(in.CollegeName)
	in.EnrollmentNumber = trim(in.EnrollmentNumber)
	in.Branch = trim(in.Branch)
	in.Year = trim(in.Year)
	in.DateOfBirth = trim(in.DateOfBirth)
	in.Gender = trim(in.Gender)
	in.Address = trim(in.Address)
	in.SecurityQuestion = trim(in.SecurityQuestion)
	in.SecurityAnswer = trim(in.SecurityAnswer)
	return in
}

func normalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}
