package repo

import (
	"context"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tfchat/server/internal/model"
)

// In-memory implementations of the repositories, safe for concurrent use.
// They back unit tests and single-process deployments without Postgres; the
// SQL implementations remain the authoritative store in production.

// MemoryChallengeRepo is an in-memory ChallengeRepo.
type MemoryChallengeRepo struct {
	mu         sync.Mutex
	challenges []model.OtpChallenge
}

// NewMemoryChallengeRepo creates an empty in-memory challenge store.
func NewMemoryChallengeRepo() *MemoryChallengeRepo {
	return &MemoryChallengeRepo{}
}

func (r *MemoryChallengeRepo) Create(_ context.Context, phone, codeHashHex string, issuedAt, expiresAt time.Time) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hash, err := hex.DecodeString(codeHashHex)
	if err != nil {
		return uuid.Nil, err
	}
	ch := model.OtpChallenge{
		ID:        uuid.New(),
		Phone:     phone,
		CodeHash:  hash,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}
	r.challenges = append(r.challenges, ch)
	return ch.ID, nil
}

func (r *MemoryChallengeRepo) Newest(_ context.Context, phone string) (model.OtpChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.challenges) - 1; i >= 0; i-- {
		if r.challenges[i].Phone == phone {
			return r.challenges[i], nil
		}
	}
	return model.OtpChallenge{}, ErrNoActiveChallenge
}

func (r *MemoryChallengeRepo) CountIssuedSince(_ context.Context, phone string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, ch := range r.challenges {
		if ch.Phone == phone && !ch.IssuedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *MemoryChallengeRepo) RecordCredential(_ context.Context, id uuid.UUID, credential string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.challenges {
		if r.challenges[i].ID == id {
			cred := credential
			r.challenges[i].Credential = &cred
			return nil
		}
	}
	return errors.New("challenge not found")
}

// MemoryLockoutRepo is an in-memory LockoutRepo.
type MemoryLockoutRepo struct {
	mu      sync.Mutex
	records map[string]model.LockoutRecord
}

// NewMemoryLockoutRepo creates an empty in-memory lockout ledger.
func NewMemoryLockoutRepo() *MemoryLockoutRepo {
	return &MemoryLockoutRepo{records: make(map[string]model.LockoutRecord)}
}

func (r *MemoryLockoutRepo) Get(_ context.Context, subject string) (model.LockoutRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[subject]
	return rec, ok, nil
}

func (r *MemoryLockoutRepo) RecordFailure(_ context.Context, subject string, now time.Time, threshold int, lockFor time.Duration) (model.LockoutRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[subject]
	rec.Subject = subject
	rec.FailedCount++
	rec.LastAttemptAt = now
	if rec.FailedCount >= threshold {
		until := now.Add(lockFor)
		rec.LockedUntil = &until
	}
	r.records[subject] = rec
	return rec, nil
}

func (r *MemoryLockoutRepo) Reset(_ context.Context, subject string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[subject] = model.LockoutRecord{Subject: subject, LastAttemptAt: now}
	return nil
}

// MemoryUserRepo is an in-memory UserRepo.
type MemoryUserRepo struct {
	mu    sync.Mutex
	users map[string]model.User
}

// NewMemoryUserRepo creates an empty in-memory user store.
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{users: make(map[string]model.User)}
}

// Add inserts a user directly, for test setup.
func (r *MemoryUserRepo) Add(phone string, verified bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[phone] = model.User{ID: uuid.New(), Phone: phone, Verified: verified, CreatedAt: time.Now()}
}

func (r *MemoryUserRepo) GetByPhone(_ context.Context, phone string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[phone]
	if !ok {
		return model.User{}, ErrUserMissing
	}
	return user, nil
}

func (r *MemoryUserRepo) Exists(_ context.Context, phone string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[phone]
	return ok, nil
}

func (r *MemoryUserRepo) MarkVerified(_ context.Context, phone string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[phone]
	if !ok {
		user = model.User{ID: uuid.New(), Phone: phone, CreatedAt: time.Now()}
	}
	user.Verified = true
	r.users[phone] = user
	return user, nil
}

// MemoryRoomRepo is an in-memory RoomRepo.
type MemoryRoomRepo struct {
	mu        sync.Mutex
	rooms     map[string]model.Room
	whitelist []model.WhitelistEntry
	nextEntry int64
}

// NewMemoryRoomRepo creates an empty in-memory room store.
func NewMemoryRoomRepo() *MemoryRoomRepo {
	return &MemoryRoomRepo{rooms: make(map[string]model.Room)}
}

func (r *MemoryRoomRepo) CreateRoom(_ context.Context, roomID string, maxParticipants int, hostPhone *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[roomID] = model.Room{
		RoomID:          roomID,
		MaxParticipants: maxParticipants,
		HostPhone:       hostPhone,
		CreatedAt:       time.Now(),
	}
	return nil
}

func (r *MemoryRoomRepo) GetRoom(_ context.Context, roomID string) (model.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return model.Room{}, ErrRoomMissing
	}
	return room, nil
}

func (r *MemoryRoomRepo) SetCapacity(_ context.Context, roomID string, max int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return ErrRoomMissing
	}
	room.MaxParticipants = max
	r.rooms[roomID] = room
	return nil
}

func (r *MemoryRoomRepo) ListRooms(_ context.Context) ([]model.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := make([]model.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.After(rooms[j].CreatedAt) })
	return rooms, nil
}

func (r *MemoryRoomRepo) IsWhitelisted(_ context.Context, roomID, phone string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.whitelist {
		if e.RoomID == roomID && e.Phone == phone {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRoomRepo) PhoneWhitelistedAnywhere(_ context.Context, phone string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.whitelist {
		if e.Phone == phone {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRoomRepo) AddWhitelist(_ context.Context, roomID, phone, addedBy string) (model.WhitelistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.whitelist {
		if e.RoomID == roomID && e.Phone == phone {
			return model.WhitelistEntry{}, ErrDuplicateWhitelist
		}
	}
	r.nextEntry++
	entry := model.WhitelistEntry{ID: r.nextEntry, RoomID: roomID, Phone: phone, AddedBy: addedBy}
	r.whitelist = append(r.whitelist, entry)
	return entry, nil
}

func (r *MemoryRoomRepo) RemoveWhitelist(_ context.Context, entryID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.whitelist {
		if e.ID == entryID {
			r.whitelist = append(r.whitelist[:i], r.whitelist[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *MemoryRoomRepo) ListWhitelist(_ context.Context) ([]model.WhitelistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.WhitelistEntry, len(r.whitelist))
	copy(out, r.whitelist)
	return out, nil
}

// MemoryMessageRepo is an in-memory MessageRepo.
type MemoryMessageRepo struct {
	mu       sync.Mutex
	messages []model.Message
}

// NewMemoryMessageRepo creates an empty in-memory message store.
func NewMemoryMessageRepo() *MemoryMessageRepo {
	return &MemoryMessageRepo{}
}

func (r *MemoryMessageRepo) Insert(_ context.Context, msg model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *MemoryMessageRepo) Recent(_ context.Context, roomID string, limit int) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []model.Message
	for _, m := range r.messages {
		if m.RoomID == roomID {
			all = append(all, m)
		}
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]model.Message, len(all))
	copy(out, all)
	return out, nil
}

func (r *MemoryMessageRepo) MarkSeen(_ context.Context, roomID, messageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		if r.messages[i].RoomID == roomID && r.messages[i].MessageID == messageID {
			if r.messages[i].Seen {
				return false, nil
			}
			r.messages[i].Seen = true
			return true, nil
		}
	}
	return false, nil
}

// MemorySessionRepo is an in-memory SessionRepo.
type MemorySessionRepo struct {
	mu       sync.Mutex
	sessions []model.LiveSession
	nextID   int64
}

// NewMemorySessionRepo creates an empty in-memory session store.
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{}
}

func (r *MemorySessionRepo) Open(_ context.Context, s model.LiveSession) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s.ID = r.nextID
	r.sessions = append(r.sessions, s)
	return s.ID, nil
}

func (r *MemorySessionRepo) Close(_ context.Context, roomID, phone string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.sessions {
		s := &r.sessions[i]
		if s.RoomID == roomID && s.Phone == phone && s.DisconnectedAt == nil {
			closedAt := at
			s.DisconnectedAt = &closedAt
			return true, nil
		}
	}
	return false, nil
}

func (r *MemorySessionRepo) SetGeo(_ context.Context, sessionID int64, geo *model.GeoLocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.sessions {
		if r.sessions[i].ID == sessionID {
			r.sessions[i].Geo = geo
			return nil
		}
	}
	return nil
}

func (r *MemorySessionRepo) ListByRoom(_ context.Context, roomID string) ([]model.LiveSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.LiveSession
	for _, s := range r.sessions {
		if s.RoomID == roomID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *MemorySessionRepo) ListRecent(_ context.Context, limit int) ([]model.LiveSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.LiveSession, len(r.sessions))
	copy(out, r.sessions)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// MemoryAdminRepo is an in-memory AdminRepo.
type MemoryAdminRepo struct {
	mu     sync.Mutex
	admins map[string]model.Admin
	logs   []model.AdminLog
	nextID int64
}

// NewMemoryAdminRepo creates an empty in-memory admin store.
func NewMemoryAdminRepo() *MemoryAdminRepo {
	return &MemoryAdminRepo{admins: make(map[string]model.Admin)}
}

func (r *MemoryAdminRepo) GetByUsername(_ context.Context, username string) (model.Admin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	admin, ok := r.admins[username]
	if !ok {
		return model.Admin{}, ErrAdminMissing
	}
	return admin, nil
}

func (r *MemoryAdminRepo) EnsureSeed(_ context.Context, username string, passwordHash []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.admins[username]; ok {
		return nil
	}
	r.admins[username] = model.Admin{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	return nil
}

func (r *MemoryAdminRepo) Log(_ context.Context, adminID uuid.UUID, action string, target, metadata *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.logs = append(r.logs, model.AdminLog{
		ID: r.nextID, AdminID: adminID, Action: action,
		Target: target, Metadata: metadata, At: time.Now(),
	})
	return nil
}

func (r *MemoryAdminRepo) ListLogs(_ context.Context, limit int) ([]model.AdminLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.AdminLog, len(r.logs))
	copy(out, r.logs)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
