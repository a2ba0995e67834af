package tone

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const lastSampleLimit = 200

type MoodSnapshot struct {
	ToneHint      Tone      `json:"tone_hint"`
	DesiredLength Length    `json:"desired_length"`
	LastSample    string    `json:"last_sample,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

func DefaultMood() MoodSnapshot {
	return MoodSnapshot{ToneHint: Neutral, DesiredLength: Medium}
}

// MoodStore holds one MoodSnapshot per user. Updates for the same user are
// serialized; different users never contend on the per-user lock.
type MoodStore struct {
	now func() time.Time

	mu        sync.RWMutex
	snapshots map[string]MoodSnapshot
	userLocks map[string]*sync.Mutex
}

func NewMoodStore() *MoodStore {
	return &MoodStore{
		now:       time.Now,
		snapshots: make(map[string]MoodSnapshot),
		userLocks: make(map[string]*sync.Mutex),
	}
}

// Get returns the user's snapshot, or the neutral/medium default for a user
// that has none yet.
func (s *MoodStore) Get(userID string) MoodSnapshot {
	if snap, ok := s.Snapshot(userID); ok {
		return snap
	}
	return DefaultMood()
}

func (s *MoodStore) Snapshot(userID string) (MoodSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[normalizeUser(userID)]
	return snap, ok
}

// Update folds a produced response back into the user's mood: a non-neutral
// response tone replaces the hint and the response length becomes the
// desired length.
func (s *MoodStore) Update(userID, response string) MoodSnapshot {
	key := normalizeUser(userID)
	lock := s.userLock(key)
	lock.Lock()
	defer lock.Unlock()

	snap := s.Get(key)
	if t := InferTone(response); t != Neutral {
		snap.ToneHint = t
	}
	if strings.TrimSpace(response) != "" {
		snap.DesiredLength = InferLength(response)
		snap.LastSample = sample(response)
	}
	snap.UpdatedAt = s.now().UTC()

	s.mu.Lock()
	s.snapshots[key] = snap
	s.mu.Unlock()
	return snap
}

func (s *MoodStore) Clear(userID string) {
	key := normalizeUser(userID)
	lock := s.userLock(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	delete(s.snapshots, key)
	s.mu.Unlock()
}

// Resolve combines the message's own signal with the user's mood: a neutral
// message tone falls back to the mood's tone hint, and a message without a
// length cue falls back to the mood's desired length.
func (s *MoodStore) Resolve(userID, message string) (Tone, Length) {
	t := InferTone(message)
	length, explicit := LengthSignal(message)
	if s == nil {
		return t, length
	}
	mood := s.Get(userID)
	if t == Neutral {
		t = mood.ToneHint
	}
	if !explicit && mood.DesiredLength.Valid() {
		length = mood.DesiredLength
	}
	return t, length
}

func (s *MoodStore) userLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock := s.userLocks[key]
	if lock == nil {
		lock = &sync.Mutex{}
		s.userLocks[key] = lock
	}
	return lock
}

func normalizeUser(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "anonymous"
	}
	return userID
}

func sample(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= lastSampleLimit {
		return text
	}
	runes := []rune(text)
	return string(runes[:lastSampleLimit-3]) + "..."
}
