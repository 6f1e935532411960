package user

import (
	"context"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/attendance/core"
)

var (
	// errors
	ErrNotFound       = core.NewNotFoundError("user not found")
	ErrEmailExists    = errors.New("a user with this email already exists")
	ErrInvalidPwd     = errors.New("invalid password")
	ErrCannotResetPwd = errors.New("password reset link is invalid or has expired")
)

type (
	Repository interface {
		CreateUser(ctx context.Context, usr User) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Email or User.Department.
		QueryUsers(ctx context.Context, filter QueryFilter, orderings []core.DBOrdering) ([]User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		GetUserByEmail(ctx context.Context, email string) (User, error)
		EmailExists(ctx context.Context, email string, excludedIDs ...string) (bool, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		DeleteUsersByID(ctx context.Context, ids ...string) error

		RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error
		IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
		PurgeRevokedTokens(ctx context.Context, before time.Time) (int64, error)
	}

	Service struct {
		repo     Repository
		mailSvc  core.EmailService
		tokenGen *tokenGenerator
		nowFunc  func() time.Time // mockable
	}
)

func NewService(repo Repository, mailSvc core.EmailService, conf *core.Config) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(mailSvc, "mailSvc"),
		vala.IsNotNil(conf, "conf"),
	).CheckAndPanic()

	return &Service{
		repo:     repo,
		mailSvc:  mailSvc,
		tokenGen: newTokenGenerator(conf.SecretKey, conf.Auth.PasswordResetTimeoutDelta),
		nowFunc:  time.Now,
	}
}

func (svc *Service) checkUniqueness(ctx context.Context, email string, exclIDs ...string) error {
	exists, err := svc.repo.EmailExists(ctx, email, exclIDs...)
	if err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	if exists {
		return core.NewValidationError(ErrEmailExists, core.FieldError{Field: "email", Error: ErrEmailExists.Error()})
	}
	return nil
}

// Create creates a new User. nu must have been validated.
func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	if err := svc.checkUniqueness(ctx, nu.Email); err != nil {
		return User{}, err
	}

	now := svc.nowFunc().UTC()
	usr := User{
		ID:         uuid.New().String(),
		Name:       nu.Name,
		Email:      nu.Email,
		Role:       nu.Role,
		Department: nu.Department,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter, orderings []core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, orderings)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
}

// Update updates usr with the validated uu.
func (svc *Service) Update(ctx context.Context, usr User, uu UpdateUser) (User, error) {
	if uu.Email != usr.Email {
		if err := svc.checkUniqueness(ctx, uu.Email, usr.ID); err != nil {
			return User{}, err
		}
	}

	usr.Name = uu.Name
	usr.Email = uu.Email
	usr.Role = uu.Role
	if uu.Department != nil {
		usr.Department = *uu.Department
	}
	if uu.IsActive != nil {
		usr.IsActive = *uu.IsActive
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "setting password")
		}
	}
	usr.UpdatedAt = svc.nowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// UpdateOrCreate creates the User with the given email, or updates their name, role & password if they exist.
// An empty name keeps the current one (the email for new users).
func (svc *Service) UpdateOrCreate(ctx context.Context, email, name, role, pwd string) (User, error) {
	email = core.CleanString(email, true /* lower */)
	usr, err := svc.repo.GetUserByEmail(ctx, email)
	if err != nil && errors.Cause(err) != ErrNotFound {
		return User{}, errors.Wrap(err, "finding user by email")
	}
	found := err == nil

	now := svc.nowFunc().UTC()
	if !found {
		usr = User{ID: uuid.New().String(), Email: email, CreatedAt: now}
	}
	if name = core.CleanString(name); name != "" {
		usr.Name = name
	} else if usr.Name == "" {
		usr.Name = email
	}
	usr.Role = role
	usr.IsActive = true
	usr.UpdatedAt = now
	if err := usr.SetPassword(pwd); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}

	if found {
		return svc.repo.UpdateUser(ctx, usr)
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	now := svc.nowFunc().UTC()
	usr.LastLogin = &now
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) Delete(ctx context.Context, ids ...string) error {
	return svc.repo.DeleteUsersByID(ctx, ids...)
}

// ChangePassword sets a new password for usr after checking their current one. cp must have been validated.
func (svc *Service) ChangePassword(ctx context.Context, usr User, cp ChangePassword) (User, error) {
	if err := usr.CheckPassword(cp.CurrentPassword); err != nil {
		return User{}, core.NewValidationError(ErrInvalidPwd, core.FieldError{Field: "current_password", Error: ErrInvalidPwd.Error()})
	}
	if err := usr.SetPassword(cp.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = svc.nowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// RequestPasswordReset emails a password reset link to the active User with the given email.
func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.IsActive {
		return ErrNotFound
	}
	svc.sendPasswordResetMail(usr)
	return nil
}

func (svc *Service) sendPasswordResetMail(usr User) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: map[string]interface{}{
			"Name":  usr.Name,
			"UID":   EncodeUID(usr),
			"Token": svc.tokenGen.makeToken(usr),
		},
	})
}

// ResetPassword sets a new password using a password reset link. data must have been validated.
func (svc *Service) ResetPassword(ctx context.Context, data ResetUserPassword) (User, error) {
	invalidErr := core.NewValidationError(ErrCannotResetPwd)

	uid, err := decodeUID(data.UID)
	if err != nil {
		return User{}, invalidErr
	}
	usr, err := svc.repo.GetUserByID(ctx, uid)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return User{}, invalidErr
		}
		return User{}, errors.Wrap(err, "finding user by ID")
	}
	if err := svc.tokenGen.verifyToken(usr, data.Token); err != nil {
		return User{}, invalidErr
	}

	if err := usr.SetPassword(data.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = svc.nowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// RevokeToken revokes a JWT (by its ID) until it expires.
func (svc *Service) RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	return svc.repo.RevokeToken(ctx, tokenID, expiresAt.UTC())
}

func (svc *Service) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	return svc.repo.IsTokenRevoked(ctx, tokenID)
}

// PurgeRevokedTokens drops revoked tokens which have expired anyway.
func (svc *Service) PurgeRevokedTokens(ctx context.Context) (int64, error) {
	return svc.repo.PurgeRevokedTokens(ctx, svc.nowFunc().UTC())
}

// AdminEmails returns the addresses of all active admins.
func (svc *Service) AdminEmails(ctx context.Context) ([]mail.Address, error) {
	active := true
	admins, err := svc.repo.QueryUsers(ctx, QueryFilter{Roles: []string{RoleAdmin}, IsActive: &active}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying admins")
	}
	addrs := make([]mail.Address, 0, len(admins))
	for _, a := range admins {
		addrs = append(addrs, mail.Address{Name: a.Name, Address: a.Email})
	}
	return addrs, nil
}

// IsStaff tells whether id belongs to an active User (teachers & admins can both own courses).
func (svc *Service) IsStaff(ctx context.Context, id string) (bool, error) {
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return usr.IsActive, nil
}
