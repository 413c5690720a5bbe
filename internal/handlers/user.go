package handlers

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/semyenov/graphql-microservices-sub001/internal/bus"
	"github.com/semyenov/graphql-microservices-sub001/internal/domain"
	"github.com/semyenov/graphql-microservices-sub001/internal/repository"
)

// User command types
const (
	RegisterUserCommand      = "RegisterUser"
	UpdateUserProfileCommand = "UpdateUserProfile"
	DeactivateUserCommand    = "DeactivateUser"
)

// RegisterUser registers a new user account.
// UserID is generated when empty.
type RegisterUser struct {
	UserID   string          `json:"user_id"`
	Email    string          `json:"email"`
	Name     string          `json:"name"`
	Metadata domain.Metadata `json:"metadata"`
}

func (RegisterUser) CommandType() string { return RegisterUserCommand }

func (c RegisterUser) Validate() error {
	if c.Email == "" {
		return domain.NewValidationError("email", "must not be empty")
	}
	return nil
}

// UpdateUserProfile changes a user's name and email
type UpdateUserProfile struct {
	UserID   string          `json:"user_id"`
	Email    string          `json:"email"`
	Name     string          `json:"name"`
	Metadata domain.Metadata `json:"metadata"`
}

func (UpdateUserProfile) CommandType() string { return UpdateUserProfileCommand }

func (c UpdateUserProfile) Validate() error {
	if c.UserID == "" {
		return domain.NewValidationError("user_id", "must not be empty")
	}
	return nil
}

// DeactivateUser disables a user account
type DeactivateUser struct {
	UserID   string          `json:"user_id"`
	Reason   string          `json:"reason"`
	Metadata domain.Metadata `json:"metadata"`
}

func (DeactivateUser) CommandType() string { return DeactivateUserCommand }

func (c DeactivateUser) Validate() error {
	if c.UserID == "" {
		return domain.NewValidationError("user_id", "must not be empty")
	}
	return nil
}

// UserCommandHandler executes user commands against the write model
type UserCommandHandler struct {
	repo *repository.AggregateRepository
}

// NewUserCommandHandler creates a new user command handler
func NewUserCommandHandler(repo *repository.AggregateRepository) *UserCommandHandler {
	return &UserCommandHandler{repo: repo}
}

// HandleRegister handles RegisterUser
func (h *UserCommandHandler) HandleRegister(ctx context.Context, cmd bus.Command) error {
	c := cmd.(RegisterUser)
	if c.UserID == "" {
		c.UserID = uuid.New().String()
	}

	aggregate, err := domain.RegisterUser(c.UserID, c.Email, c.Name, c.Metadata)
	if err != nil {
		return err
	}

	if err := h.repo.Save(ctx, aggregate, RoutingKeyUsers); err != nil {
		return err
	}

	log.Info().Str("userID", c.UserID).Msg("User registered")
	return nil
}

// HandleUpdateProfile handles UpdateUserProfile
func (h *UserCommandHandler) HandleUpdateProfile(ctx context.Context, cmd bus.Command) error {
	c := cmd.(UpdateUserProfile)

	return withConflictRetry(ctx, func(ctx context.Context) error {
		aggregate := domain.NewUserAggregate(c.UserID)
		if err := h.repo.Load(ctx, aggregate); err != nil {
			return err
		}
		if err := aggregate.UpdateProfile(c.Email, c.Name, c.Metadata); err != nil {
			return err
		}
		return h.repo.Save(ctx, aggregate, RoutingKeyUsers)
	})
}

// HandleDeactivate handles DeactivateUser
func (h *UserCommandHandler) HandleDeactivate(ctx context.Context, cmd bus.Command) error {
	c := cmd.(DeactivateUser)

	return withConflictRetry(ctx, func(ctx context.Context) error {
		aggregate := domain.NewUserAggregate(c.UserID)
		if err := h.repo.Load(ctx, aggregate); err != nil {
			return err
		}
		if err := aggregate.Deactivate(c.Reason, c.Metadata); err != nil {
			return err
		}
		return h.repo.Save(ctx, aggregate, RoutingKeyUsers)
	})
}
