package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// FreeRADIUS schema column widths.
const (
	maxUsernameLen = 64
	maxValueLen    = 253
)

// Actor is the pre-authenticated identity performing an administrative action.
type Actor string

// CreateAccountInput is the raw form of an account creation request.
type CreateAccountInput struct {
	Username   string
	Expiration string
	Note       string
}

// CreatedAccount is returned once an account is provisioned. The code itself
// is only reachable through the CodeStash.
type CreatedAccount struct {
	Username   string `json:"username"`
	Expiration string `json:"expiration"`
}

// AccountView is everything the detail page shows about one account.
type AccountView struct {
	Account AccountDetails `json:"account"`
	Meta    *AccountMeta   `json:"meta"`
	Audit   []AuditEvent   `json:"audit"`
}

// ProvisioningService implements the account lifecycle. Every mutating
// operation writes its attributes, metadata and audit event in one transaction.
type ProvisioningService struct {
	uow        UnitOfWork
	logger     *slog.Logger
	codeLength int
	auditLimit int
	generate   func(length int) (string, error)
}

func NewProvisioningService(uow UnitOfWork, cfg Config, logger *slog.Logger) *ProvisioningService {
	if logger == nil {
		logger = slog.Default()
	}
	codeLength := cfg.CodeLength
	if codeLength <= 0 {
		codeLength = DefaultCodeLength
	}
	auditLimit := clampAuditLimit(cfg.AuditLimit, DefaultAuditLimit)
	return &ProvisioningService{
		uow:        uow,
		logger:     logger,
		codeLength: codeLength,
		auditLimit: auditLimit,
		generate:   GenerateCode,
	}
}

// CreateAccount provisions a new account with a generated code and a mandatory
// expiration, then stashes the code for a single reveal.
func (s *ProvisioningService) CreateAccount(ctx context.Context, stash CodeStash, actor Actor, in CreateAccountInput) (*CreatedAccount, error) {
	if err := checkActor(actor); err != nil {
		return nil, err
	}
	username, err := normalizeUsername(in.Username)
	if err != nil {
		return nil, err
	}
	exists, err := s.uow.Stores().Attributes.AccountExists(ctx, username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAccountExists
	}
	expiration, err := parseExpirationInput(in.Expiration)
	if err != nil {
		return nil, err
	}
	code, err := s.generate(s.codeLength)
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}

	err = s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		if err := st.Attributes.LockAccount(ctx, username); err != nil {
			return err
		}
		// re-check under the lock: a concurrent create may have won the race
		exists, err := st.Attributes.AccountExists(ctx, username)
		if err != nil {
			return err
		}
		if exists {
			return ErrAccountExists
		}
		if err := st.Attributes.UpsertAttribute(ctx, username, AttrPassword, code, OpAssign); err != nil {
			return err
		}
		if err := st.Attributes.UpsertAttribute(ctx, username, AttrExpiration, expiration, OpAssign); err != nil {
			return err
		}
		if err := st.Meta.RecordCreation(ctx, username, string(actor), strings.TrimSpace(in.Note)); err != nil {
			return err
		}
		return st.Audit.Append(ctx, AuditEvent{
			Actor:          string(actor),
			Action:         ActionCreateUser,
			TargetUsername: username,
			Detail:         map[string]any{"expiration_set": true},
		})
	})
	if err != nil {
		return nil, err
	}

	if err := stash.Put(ctx, username, code); err != nil {
		s.logger.ErrorContext(ctx, "pending code not stashed", "username", username, "actor", string(actor), "error", err)
		return nil, fmt.Errorf("stash pending code: %w", err)
	}
	s.logger.InfoContext(ctx, "account created", "username", username, "actor", string(actor), "action", string(ActionCreateUser))
	return &CreatedAccount{Username: username, Expiration: expiration}, nil
}

// DeleteAccount removes all attributes of username. It succeeds whether or not
// the account existed and always records a DELETE_USER event.
func (s *ProvisioningService) DeleteAccount(ctx context.Context, actor Actor, username string) error {
	if err := checkActor(actor); err != nil {
		return err
	}
	username, err := normalizeUsername(username)
	if err != nil {
		return err
	}
	var removed int64
	err = s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		n, err := st.Attributes.DeleteAccount(ctx, username)
		if err != nil {
			return err
		}
		removed = n
		if err := st.Meta.Touch(ctx, username, string(actor)); err != nil {
			return err
		}
		return st.Audit.Append(ctx, AuditEvent{
			Actor:          string(actor),
			Action:         ActionDeleteUser,
			TargetUsername: username,
			Detail:         map[string]any{"existed": n > 0},
		})
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "account deleted", "username", username, "actor", string(actor), "action", string(ActionDeleteUser), "rows", removed)
	return nil
}

// SetPassword replaces the shared secret. An empty password generates a new
// code, which is stashed for a single reveal; generated reports which happened.
func (s *ProvisioningService) SetPassword(ctx context.Context, stash CodeStash, actor Actor, username, password string) (generated bool, err error) {
	if err := checkActor(actor); err != nil {
		return false, err
	}
	username, err = normalizeUsername(username)
	if err != nil {
		return false, err
	}
	if len(password) > maxValueLen {
		return false, invalid("password", fmt.Sprintf("must be at most %d characters", maxValueLen))
	}
	if password == "" {
		password, err = s.generate(s.codeLength)
		if err != nil {
			return false, fmt.Errorf("generate code: %w", err)
		}
		generated = true
	}

	err = s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		if err := requireAccount(ctx, st, username); err != nil {
			return err
		}
		if err := st.Attributes.UpsertAttribute(ctx, username, AttrPassword, password, OpAssign); err != nil {
			return err
		}
		if err := st.Meta.Touch(ctx, username, string(actor)); err != nil {
			return err
		}
		return st.Audit.Append(ctx, AuditEvent{
			Actor:          string(actor),
			Action:         ActionSetPassword,
			TargetUsername: username,
			Detail:         map[string]any{"generated": generated},
		})
	})
	if err != nil {
		return false, err
	}
	if generated {
		if err := stash.Put(ctx, username, password); err != nil {
			return false, fmt.Errorf("stash pending code: %w", err)
		}
	}
	s.logger.InfoContext(ctx, "password updated", "username", username, "actor", string(actor), "action", string(ActionSetPassword), "generated", generated)
	return generated, nil
}

// SetExpiration parses and stores a new expiration for an existing account.
func (s *ProvisioningService) SetExpiration(ctx context.Context, actor Actor, username, expiration string) (string, error) {
	if err := checkActor(actor); err != nil {
		return "", err
	}
	username, err := normalizeUsername(username)
	if err != nil {
		return "", err
	}
	value, err := parseExpirationInput(expiration)
	if err != nil {
		return "", err
	}
	err = s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		if err := requireAccount(ctx, st, username); err != nil {
			return err
		}
		if err := st.Attributes.UpsertAttribute(ctx, username, AttrExpiration, value, OpAssign); err != nil {
			return err
		}
		if err := st.Meta.Touch(ctx, username, string(actor)); err != nil {
			return err
		}
		return st.Audit.Append(ctx, AuditEvent{
			Actor:          string(actor),
			Action:         ActionSetExpiration,
			TargetUsername: username,
			Detail:         map[string]any{"expiration": value},
		})
	})
	if err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "expiration set", "username", username, "actor", string(actor), "action", string(ActionSetExpiration), "expiration", value)
	return value, nil
}

// ClearExpiration removes the expiration of an existing account.
func (s *ProvisioningService) ClearExpiration(ctx context.Context, actor Actor, username string) error {
	if err := checkActor(actor); err != nil {
		return err
	}
	username, err := normalizeUsername(username)
	if err != nil {
		return err
	}
	err = s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		if err := requireAccount(ctx, st, username); err != nil {
			return err
		}
		n, err := st.Attributes.DeleteAttribute(ctx, username, AttrExpiration)
		if err != nil {
			return err
		}
		if err := st.Meta.Touch(ctx, username, string(actor)); err != nil {
			return err
		}
		return st.Audit.Append(ctx, AuditEvent{
			Actor:          string(actor),
			Action:         ActionClearExpiration,
			TargetUsername: username,
			Detail:         map[string]any{"was_set": n > 0},
		})
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "expiration cleared", "username", username, "actor", string(actor), "action", string(ActionClearExpiration))
	return nil
}

// AccountDetail returns attributes, provenance and the latest audit events.
// A non-positive limit uses the configured default.
func (s *ProvisioningService) AccountDetail(ctx context.Context, username string, limit int) (*AccountView, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return nil, err
	}
	limit = clampAuditLimit(limit, s.auditLimit)
	st := s.uow.Stores()
	details, err := st.Attributes.GetAccountDetails(ctx, username)
	if err != nil {
		return nil, err
	}
	view := &AccountView{Account: *details}
	meta, err := st.Meta.GetMetadata(ctx, username)
	switch {
	case err == nil:
		view.Meta = meta
	case !errors.Is(err, ErrMetadataNotFound):
		return nil, err
	}
	view.Audit, err = st.Audit.ListByTarget(ctx, username, limit)
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *ProvisioningService) ListAccounts(ctx context.Context) ([]AccountSummary, error) {
	return s.uow.Stores().Attributes.ListAccounts(ctx)
}

// RevealCode takes the pending code for username out of stash.
func (s *ProvisioningService) RevealCode(ctx context.Context, stash CodeStash, username string) (string, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return "", err
	}
	code, ok, err := stash.Take(ctx, username)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNoPendingCode
	}
	return code, nil
}

func requireAccount(ctx context.Context, st Stores, username string) error {
	exists, err := st.Attributes.AccountExists(ctx, username)
	if err != nil {
		return err
	}
	if !exists {
		return ErrAccountNotFound
	}
	return nil
}

func checkActor(actor Actor) error {
	if strings.TrimSpace(string(actor)) == "" {
		return invalid("actor", "acting identity is required")
	}
	return nil
}

func normalizeUsername(raw string) (string, error) {
	username := strings.TrimSpace(raw)
	if username == "" {
		return "", invalid("username", "username is required")
	}
	if len(username) > maxUsernameLen {
		return "", invalid("username", fmt.Sprintf("must be at most %d characters", maxUsernameLen))
	}
	return username, nil
}

func parseExpirationInput(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", invalid("expiration", "expiration is required")
	}
	value, err := ParseExpiration(raw)
	if err != nil {
		return "", &ValidationError{Field: "expiration", Message: err.Error(), Err: err}
	}
	return value, nil
}
