package game

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goalduel/server/internal/model"
)

// JoinedFunc announces a seat assignment. The registry runs it under the
// room's egress lock, so join events always precede anything the room
// decides after the seating.
type JoinedFunc func(room *Room, seat model.Seat, seats []SeatInfo)

// Registry owns all live rooms, indexed by id, by join code and by member
// session. Thread-safe for concurrent access.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*Room // roomID → Room
	byCode   map[string]*Room // join code → Room
	byMember map[string]*Room // sessionID → Room (quick lookup, one seat per session)

	codeLen       int
	matchDuration time.Duration
	rng           *rand.Rand
}

// NewRegistry creates an empty room registry.
func NewRegistry(codeLen int, matchDuration time.Duration, rng *rand.Rand) *Registry {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Registry{
		rooms:         make(map[string]*Room, 64),
		byCode:        make(map[string]*Room, 64),
		byMember:      make(map[string]*Room, 128),
		codeLen:       codeLen,
		matchDuration: matchDuration,
		rng:           rng,
	}
}

// Create makes a new waiting room and seats the creator as p1.
// The join code is unique across all live rooms.
func (g *Registry) Create(sub Subscriber, joined JoinedFunc) (*Room, []SeatInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.byMember[sub.ID()]; ok {
		return nil, nil, ErrAlreadyInRoom
	}

	var code string
	for {
		code = GenerateCode(g.rng, g.codeLen)
		if _, taken := g.byCode[code]; !taken {
			break
		}
	}

	room := NewRoom(uuid.NewString(), code, g.matchDuration)
	room.egressMu.Lock()
	seat, seats, err := room.Join(sub)
	if err != nil {
		room.egressMu.Unlock()
		return nil, nil, err
	}

	g.rooms[room.ID()] = room
	g.byCode[code] = room
	g.byMember[sub.ID()] = room

	if joined != nil {
		joined(room, seat, seats)
	}
	room.egressMu.Unlock()

	slog.Debug("room created", "room", room.ID(), "code", code, "user", sub.UserID())
	return room, seats, nil
}

// JoinByCode seats the subscriber into the room with the given code.
// The seat race for the last slot is decided under the registry lock:
// exactly one of two simultaneous joiners wins, the other gets ErrRoomFull.
func (g *Registry) JoinByCode(sub Subscriber, code string, joined JoinedFunc) (*Room, []SeatInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.byMember[sub.ID()]; ok {
		return nil, nil, ErrAlreadyInRoom
	}

	room, ok := g.byCode[NormalizeCode(code)]
	if !ok {
		return nil, nil, ErrBadCode
	}
	if room.Status() == StatusDisposing {
		// The code still resolves during the dispose grace period, but the
		// room behind it is already gone.
		return nil, nil, ErrRoomNotFound
	}

	room.egressMu.Lock()
	seat, seats, err := room.Join(sub)
	if err != nil {
		room.egressMu.Unlock()
		return room, nil, err
	}
	g.byMember[sub.ID()] = room
	if joined != nil {
		joined(room, seat, seats)
	}
	room.egressMu.Unlock()
	return room, seats, nil
}

// FindOrCreate implements random matchmaking: joins any waiting room with an
// open seat, or creates a fresh one.
func (g *Registry) FindOrCreate(sub Subscriber, joined JoinedFunc) (*Room, []SeatInfo, error) {
	g.mu.Lock()

	if _, ok := g.byMember[sub.ID()]; ok {
		g.mu.Unlock()
		return nil, nil, ErrAlreadyInRoom
	}

	for _, room := range g.rooms {
		if !room.HasOpenSeat() {
			continue
		}
		room.egressMu.Lock()
		seat, seats, err := room.Join(sub)
		if err != nil {
			room.egressMu.Unlock()
			continue // lost the race to another joiner, keep looking
		}
		g.byMember[sub.ID()] = room
		if joined != nil {
			joined(room, seat, seats)
		}
		room.egressMu.Unlock()
		g.mu.Unlock()
		return room, seats, nil
	}
	g.mu.Unlock()

	return g.Create(sub, joined)
}

// ByID returns a room by id.
func (g *Registry) ByID(roomID string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms[roomID]
}

// ByMember returns the room holding the given session's seat.
func (g *Registry) ByMember(sessionID string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.byMember[sessionID]
}

// ReleaseMember drops the sessionID → room index entry after a leave.
func (g *Registry) ReleaseMember(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.byMember, sessionID)
}

// Remove deletes a room and all its indexes.
func (g *Registry) Remove(roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[roomID]
	if !ok {
		return
	}
	delete(g.rooms, roomID)
	delete(g.byCode, room.Code())
	for sid, r := range g.byMember {
		if r == room {
			delete(g.byMember, sid)
		}
	}
	slog.Debug("room removed", "room", roomID, "code", room.Code())
}

// Count returns the number of live rooms.
func (g *Registry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// ForEach iterates over all live rooms. If fn returns false, iteration
// stops.
func (g *Registry) ForEach(fn func(*Room) bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, room := range g.rooms {
		if !fn(room) {
			return
		}
	}
}
