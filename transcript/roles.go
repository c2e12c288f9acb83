package transcript

import "sync"

type Role string

const (
	RoleParticipant Role = "participant"
	RoleBot         Role = "bot"
	RoleUnknown     Role = "unknown"
)

// RoleResolver maps a speaker label to the role of whoever owns it.
type RoleResolver interface {
	Role(speaker string) Role
}

// Registry is a RoleResolver fed by the participant list of the meeting.
// Speakers it does not list are resolved by the fallback, or are unknown
// when there is none.
type Registry struct {
	mu       sync.RWMutex
	roles    map[string]Role
	fallback RoleResolver
}

func NewRegistry(fallback RoleResolver) *Registry {
	return &Registry{roles: make(map[string]Role), fallback: fallback}
}

func (r *Registry) Set(speaker string, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[speaker] = role
}

func (r *Registry) Role(speaker string) Role {
	if speaker == "" {
		return RoleUnknown
	}
	r.mu.RLock()
	role, ok := r.roles[speaker]
	r.mu.RUnlock()
	if ok {
		return role
	}
	if r.fallback != nil {
		return r.fallback.Role(speaker)
	}
	return RoleUnknown
}

// Everyone treats every labelled speaker as a participant, for captures
// where the bot's own audio never reaches the recognizer.
type Everyone struct{}

func (Everyone) Role(speaker string) Role {
	if speaker == "" {
		return RoleUnknown
	}
	return RoleParticipant
}
