package models

import "time"

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

const (
	RoomLobby     RoomStatus = "LOBBY"
	RoomActive    RoomStatus = "ACTIVE"
	RoomPaused    RoomStatus = "PAUSED"
	RoomCompleted RoomStatus = "COMPLETED"
)

// Holding is an ownable board space.
type Holding struct {
	ID            string `json:"id"`
	OwnerID       string `json:"ownerId,omitempty"`
	Price         int64  `json:"price"`
	Mortgaged     bool   `json:"mortgaged"`
	MortgageValue int64  `json:"mortgageValue"`
	Improvements  int    `json:"improvements"`
	// PurchasableAt is set when a mortgaged holding was released by a forfeiture and
	// can be bought for its mortgage value.
	PurchasableAt int64 `json:"purchasableAt,omitempty"`
}

type TradeStatus string

const (
	TradeOpen      TradeStatus = "OPEN"
	TradeAccepted  TradeStatus = "ACCEPTED"
	TradeCancelled TradeStatus = "CANCELLED"
)

// Trade is a pending exchange between two players.
type Trade struct {
	ID     string      `json:"id"`
	FromID string      `json:"fromId"`
	ToID   string      `json:"toId"`
	Status TradeStatus `json:"status"`
}

// Room is the persisted state of one game room. Players is the canonical roster in ordinal order.
type Room struct {
	GameID           string     `json:"gameId"`
	HostID           string     `json:"hostId"`
	TurnOrder        []string   `json:"turnOrder"`
	CurrentTurnIndex int        `json:"currentTurnIndex"`
	Status           RoomStatus `json:"status"`
	ExtraTurn        bool       `json:"extraTurn"`
	HasRolled        bool       `json:"hasRolled"`
	WinnerID         string     `json:"winnerId,omitempty"`
	Players          []Player   `json:"players"`
	Holdings         []Holding  `json:"holdings"`
	Trades           []Trade    `json:"trades"`
	SettlementPool   int64      `json:"settlementPool"`
	Version          int64      `json:"version"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// CurrentTurnID returns the playerId holding the turn, or "" when there is none.
func (r Room) CurrentTurnID() string {
	if r.CurrentTurnIndex < 0 || r.CurrentTurnIndex >= len(r.TurnOrder) {
		return ""
	}
	return r.TurnOrder[r.CurrentTurnIndex]
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r Room) Clone() Room {
	out := r
	out.TurnOrder = append([]string(nil), r.TurnOrder...)
	out.Players = append([]Player(nil), r.Players...)
	out.Holdings = append([]Holding(nil), r.Holdings...)
	out.Trades = append([]Trade(nil), r.Trades...)
	return out
}
