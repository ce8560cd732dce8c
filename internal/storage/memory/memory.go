// Package memory is an in-process Storage with the same error contract as the postgres one.
// It backs service and handler tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"referral_service/internal/models"
	"referral_service/internal/storage"
)

type Storage struct {
	mu sync.Mutex

	users      map[int64]models.User
	emailIndex map[string]int64
	codes      map[int64]models.ReferralCode
	codeIndex  map[string]int64

	lastUserID int64
	lastCodeID int64

	failure error
}

func New() *Storage {
	return &Storage{
		users:      make(map[int64]models.User),
		emailIndex: make(map[string]int64),
		codes:      make(map[int64]models.ReferralCode),
		codeIndex:  make(map[string]int64),
	}
}

// Fail makes every following call return err wrapped in storage.ErrUnavailable. nil restores normal operation.
func (s *Storage) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failure = err
}

func (s *Storage) check(op string) error {
	if s.failure != nil {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, s.failure)
	}

	return nil
}

func (s *Storage) SaveUser(_ context.Context, email string, passHash []byte, codeID *int64) (int64, error) {
	const op = "storage.memory.SaveUser"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(op); err != nil {
		return 0, err
	}
	if _, ok := s.emailIndex[email]; ok {
		return 0, fmt.Errorf("%s: %w", op, storage.ErrUserExists)
	}
	if codeID != nil {
		if _, ok := s.codes[*codeID]; !ok {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrCodeNotFound)
		}
	}

	s.lastUserID++
	u := models.User{
		ID:       s.lastUserID,
		Email:    email,
		PassHash: append([]byte(nil), passHash...),
		CodeID:   copyID(codeID),
	}

	s.users[u.ID] = u
	s.emailIndex[email] = u.ID

	return u.ID, nil
}

func (s *Storage) User(_ context.Context, email string) (models.User, error) {
	const op = "storage.memory.User"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(op); err != nil {
		return models.User{}, err
	}

	id, ok := s.emailIndex[email]
	if !ok {
		return models.User{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return s.userCopy(id), nil
}

func (s *Storage) UserByID(_ context.Context, id int64) (models.User, error) {
	const op = "storage.memory.UserByID"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(op); err != nil {
		return models.User{}, err
	}
	if _, ok := s.users[id]; !ok {
		return models.User{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return s.userCopy(id), nil
}

func (s *Storage) UsersByCode(_ context.Context, codeID int64) ([]models.Referral, error) {
	const op = "storage.memory.UsersByCode"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(op); err != nil {
		return nil, err
	}

	referrals := make([]models.Referral, 0)
	for _, u := range s.users {
		if u.CodeID != nil && *u.CodeID == codeID {
			referrals = append(referrals, models.Referral{ID: u.ID, Email: u.Email})
		}
	}

	sort.Slice(referrals, func(i, j int) bool { return referrals[i].ID < referrals[j].ID })

	return referrals, nil
}

func (s *Storage) SaveCode(
	_ context.Context,
	ownerID int64,
	code string,
	expiresAt time.Time,
	now time.Time,
) (models.ReferralCode, error) {
	const op = "storage.memory.SaveCode"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(op); err != nil {
		return models.ReferralCode{}, err
	}
	if _, ok := s.users[ownerID]; !ok {
		return models.ReferralCode{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	if _, ok := s.activeByOwner(ownerID, now); ok {
		return models.ReferralCode{}, fmt.Errorf("%s: %w", op, storage.ErrActiveCodeExists)
	}
	if _, ok := s.codeIndex[code]; ok {
		return models.ReferralCode{}, fmt.Errorf("%s: %w", op, storage.ErrCodeExists)
	}

	s.lastCodeID++
	rc := models.ReferralCode{
		ID:        s.lastCodeID,
		Code:      code,
		OwnerID:   ownerID,
		ExpiresAt: expiresAt.UTC(),
	}

	s.codes[rc.ID] = rc
	s.codeIndex[code] = rc.ID

	return rc, nil
}

func (s *Storage) CodeByValue(_ context.Context, code string) (models.ReferralCode, error) {
	const op = "storage.memory.CodeByValue"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(op); err != nil {
		return models.ReferralCode{}, err
	}

	id, ok := s.codeIndex[code]
	if !ok {
		return models.ReferralCode{}, fmt.Errorf("%s: %w", op, storage.ErrCodeNotFound)
	}

	return s.codes[id], nil
}

func (s *Storage) CodeByID(_ context.Context, id int64) (models.ReferralCode, error) {
	const op = "storage.memory.CodeByID"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(op); err != nil {
		return models.ReferralCode{}, err
	}

	rc, ok := s.codes[id]
	if !ok {
		return models.ReferralCode{}, fmt.Errorf("%s: %w", op, storage.ErrCodeNotFound)
	}

	return rc, nil
}

func (s *Storage) ActiveCodeByOwner(_ context.Context, ownerID int64, now time.Time) (models.ReferralCode, error) {
	const op = "storage.memory.ActiveCodeByOwner"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(op); err != nil {
		return models.ReferralCode{}, err
	}

	rc, ok := s.activeByOwner(ownerID, now)
	if !ok {
		return models.ReferralCode{}, fmt.Errorf("%s: %w", op, storage.ErrCodeNotFound)
	}

	return rc, nil
}

func (s *Storage) DeleteCode(_ context.Context, id int64) error {
	const op = "storage.memory.DeleteCode"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(op); err != nil {
		return err
	}

	rc, ok := s.codes[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrCodeNotFound)
	}

	for uid, u := range s.users {
		if u.CodeID != nil && *u.CodeID == id {
			u.CodeID = nil
			s.users[uid] = u
		}
	}

	delete(s.codes, id)
	delete(s.codeIndex, rc.Code)

	return nil
}

func (s *Storage) activeByOwner(ownerID int64, now time.Time) (models.ReferralCode, bool) {
	var (
		best  models.ReferralCode
		found bool
	)

	for _, rc := range s.codes {
		if rc.OwnerID != ownerID || !rc.IsActive(now) {
			continue
		}
		if !found || rc.ExpiresAt.After(best.ExpiresAt) {
			best, found = rc, true
		}
	}

	return best, found
}

func (s *Storage) userCopy(id int64) models.User {
	u := s.users[id]
	u.PassHash = append([]byte(nil), u.PassHash...)
	u.CodeID = copyID(u.CodeID)

	return u
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}

	v := *id

	return &v
}
