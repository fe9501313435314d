package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// memState is an in-memory stand-in for radcheck, user_meta and audit_log.
type memState struct {
	mu       sync.Mutex
	radcheck map[string]map[string]string
	meta     map[string]AccountMeta
	audit    []AuditEvent
	nextID   int64
	clock    time.Time

	failAppend error
}

func newMemState() *memState {
	return &memState{
		radcheck: map[string]map[string]string{},
		meta:     map[string]AccountMeta{},
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memState) clone() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &memState{
		radcheck:   make(map[string]map[string]string, len(m.radcheck)),
		meta:       make(map[string]AccountMeta, len(m.meta)),
		audit:      append([]AuditEvent(nil), m.audit...),
		nextID:     m.nextID,
		clock:      m.clock,
		failAppend: m.failAppend,
	}
	for u, attrs := range m.radcheck {
		cp := make(map[string]string, len(attrs))
		for k, v := range attrs {
			cp[k] = v
		}
		c.radcheck[u] = cp
	}
	for u, meta := range m.meta {
		c.meta[u] = meta
	}
	return c
}

func (m *memState) replace(c *memState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.radcheck, m.meta, m.audit, m.nextID, m.clock = c.radcheck, c.meta, c.audit, c.nextID, c.clock
}

func (m *memState) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memState) AccountExists(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.radcheck[username]) > 0, nil
}

func (m *memState) LockAccount(context.Context, string) error { return nil }

func (m *memState) UpsertAttribute(_ context.Context, username, attribute, value, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.radcheck[username] == nil {
		m.radcheck[username] = map[string]string{}
	}
	m.radcheck[username][attribute] = value
	return nil
}

func (m *memState) DeleteAttribute(_ context.Context, username, attribute string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attrs := m.radcheck[username]
	if _, ok := attrs[attribute]; !ok {
		return 0, nil
	}
	delete(attrs, attribute)
	if len(attrs) == 0 {
		delete(m.radcheck, username)
	}
	return 1, nil
}

func (m *memState) DeleteAccount(_ context.Context, username string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.radcheck[username]))
	delete(m.radcheck, username)
	return n, nil
}

func (m *memState) ListAccounts(context.Context) ([]AccountSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.radcheck))
	for u := range m.radcheck {
		names = append(names, u)
	}
	sort.Strings(names)
	items := make([]AccountSummary, 0, len(names))
	for _, u := range names {
		a := AccountSummary{Username: u}
		_, a.HasPassword = m.radcheck[u][AttrPassword]
		if exp, ok := m.radcheck[u][AttrExpiration]; ok {
			a.Expiration = &exp
		}
		items = append(items, a)
	}
	return items, nil
}

func (m *memState) GetAccountDetails(_ context.Context, username string) (*AccountDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attrs := m.radcheck[username]
	if len(attrs) == 0 {
		return nil, ErrAccountNotFound
	}
	return &AccountDetails{Username: username, Password: attrs[AttrPassword], Expiration: attrs[AttrExpiration]}, nil
}

func (m *memState) CountAccounts(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.radcheck), nil
}

func (m *memState) RecordCreation(_ context.Context, username, actor, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	meta, ok := m.meta[username]
	if !ok {
		meta = AccountMeta{Username: username, CreatedAt: now, CreatedBy: actor}
	}
	meta.UpdatedAt, meta.UpdatedBy = now, actor
	if note != "" {
		meta.Note = note
	}
	m.meta[username] = meta
	return nil
}

func (m *memState) Touch(_ context.Context, username, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.meta[username]
	if !ok {
		return nil
	}
	meta.UpdatedAt, meta.UpdatedBy = m.tick(), actor
	m.meta[username] = meta
	return nil
}

func (m *memState) GetMetadata(_ context.Context, username string) (*AccountMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.meta[username]
	if !ok {
		return nil, ErrMetadataNotFound
	}
	return &meta, nil
}

func (m *memState) Append(_ context.Context, ev AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend != nil {
		return m.failAppend
	}
	m.nextID++
	ev.ID = m.nextID
	ev.OccurredAt = m.tick()
	if ev.Detail == nil {
		ev.Detail = map[string]any{}
	}
	m.audit = append(m.audit, ev)
	return nil
}

func (m *memState) ListByTarget(_ context.Context, username string, limit int) ([]AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	out := make([]AuditEvent, 0)
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if m.audit[i].TargetUsername == username {
			out = append(out, m.audit[i])
		}
	}
	return out, nil
}

func (m *memState) stores() Stores {
	return Stores{Attributes: m, Meta: m, Audit: m}
}

// memUnitOfWork serialises Do calls and applies a unit's writes only when it succeeds.
type memUnitOfWork struct {
	txMu  sync.Mutex
	state *memState
}

func newMemUnitOfWork() *memUnitOfWork {
	return &memUnitOfWork{state: newMemState()}
}

func (u *memUnitOfWork) Stores() Stores { return u.state.stores() }

func (u *memUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	u.txMu.Lock()
	defer u.txMu.Unlock()
	work := u.state.clone()
	if err := fn(ctx, work.stores()); err != nil {
		return err
	}
	u.state.replace(work)
	return nil
}

type memStash struct {
	mu      sync.Mutex
	codes   map[string]string
	failPut error
}

func newMemStash() *memStash { return &memStash{codes: map[string]string{}} }

func (s *memStash) Put(_ context.Context, username, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut != nil {
		return s.failPut
	}
	s.codes[username] = code
	return nil
}

func (s *memStash) Take(_ context.Context, username string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.codes[username]
	delete(s.codes, username)
	return code, ok, nil
}

var errInjected = errors.New("injected failure")
