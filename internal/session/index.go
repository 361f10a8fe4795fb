// internal/session/index.go
package session

import (
	"hash/fnv"
	"sync"
)

const shardCount = 32

// Key identifies one player's seat in one game.
type Key struct {
	GameID   string
	PlayerID string
}

// Index is the process-wide (gameId, playerId) -> Session map. It is sharded so rooms do
// not contend with each other; each room sequencer is the only writer of its own keys.
// Values are copies, so readers never observe a half-applied transition.
type Index struct {
	shards [shardCount]shard
}

type shard struct {
	mu       sync.RWMutex
	sessions map[Key]Session
}

func NewIndex() *Index {
	idx := &Index{}
	for i := range idx.shards {
		idx.shards[i].sessions = make(map[Key]Session)
	}
	return idx
}

func (idx *Index) shardFor(k Key) *shard {
	h := fnv.New32a()
	h.Write([]byte(k.GameID))
	h.Write([]byte{0})
	h.Write([]byte(k.PlayerID))
	return &idx.shards[h.Sum32()%shardCount]
}

// Put stores s under its (GameID, PlayerID).
func (idx *Index) Put(s Session) {
	k := Key{GameID: s.GameID, PlayerID: s.PlayerID}
	sh := idx.shardFor(k)
	sh.mu.Lock()
	sh.sessions[k] = s
	sh.mu.Unlock()
}

func (idx *Index) Get(gameID, playerID string) (Session, bool) {
	k := Key{GameID: gameID, PlayerID: playerID}
	sh := idx.shardFor(k)
	sh.mu.RLock()
	s, ok := sh.sessions[k]
	sh.mu.RUnlock()
	return s, ok
}

// PutIfAbsent stores s only when its key holds no session yet.
func (idx *Index) PutIfAbsent(s Session) bool {
	k := Key{GameID: s.GameID, PlayerID: s.PlayerID}
	sh := idx.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.sessions[k]; ok {
		return false
	}
	sh.sessions[k] = s
	return true
}

// DeleteConnecting removes the entry of a handshake that never completed. It is a no-op
// once the key was rebound to another connection or moved past CONNECTING.
func (idx *Index) DeleteConnecting(gameID, playerID, connectionID string) bool {
	k := Key{GameID: gameID, PlayerID: playerID}
	sh := idx.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	s, ok := sh.sessions[k]
	if !ok || s.State != Connecting || s.ConnectionID != connectionID {
		return false
	}
	delete(sh.sessions, k)
	return true
}

// DeleteGame drops every entry of a game, used when a room is unloaded.
func (idx *Index) DeleteGame(gameID string) int {
	n := 0
	for i := range idx.shards {
		sh := &idx.shards[i]
		sh.mu.Lock()
		for k := range sh.sessions {
			if k.GameID == gameID {
				delete(sh.sessions, k)
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// Len counts sessions in the given states, or all sessions when none are given.
func (idx *Index) Len(states ...State) int {
	n := 0
	for i := range idx.shards {
		sh := &idx.shards[i]
		sh.mu.RLock()
		for _, s := range sh.sessions {
			if len(states) == 0 {
				n++
				continue
			}
			for _, st := range states {
				if s.State == st {
					n++
					break
				}
			}
		}
		sh.mu.RUnlock()
	}
	return n
}
