// internal/game/rules.go
package game

import (
	"fmt"
	"math/rand/v2"

	"github.com/jason-s-yu/roomcoord/internal/models"
)

const (
	// BoardSize is the number of spaces around the board.
	BoardSize = 40
	// PassGoBonus is paid when a move wraps past the start space.
	PassGoBonus = 200
)

// DiceEngine is the built-in rule engine: two dice move the actor, passing start pays
// PassGoBonus and doubles earn an extra turn.
type DiceEngine struct {
	roll func() int
}

// NewDiceEngine returns an engine using roll for each die. A nil roll uses math/rand.
func NewDiceEngine(roll func() int) *DiceEngine {
	if roll == nil {
		roll = func() int { return rand.IntN(6) + 1 }
	}
	return &DiceEngine{roll: roll}
}

func (e *DiceEngine) EvaluateAction(action models.GameAction, room models.Room) (models.Room, []Event, error) {
	if action.ActionType != "roll_dice" {
		return room, nil, fmt.Errorf("unsupported action %q", action.ActionType)
	}
	next := room.Clone()
	idx := -1
	for i, p := range next.Players {
		if p.ID == action.PlayerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return room, nil, fmt.Errorf("player %s is not in the room", action.PlayerID)
	}

	d1, d2 := e.roll(), e.roll()
	p := &next.Players[idx]
	from := p.Position
	to := from + d1 + d2
	passedGo := to >= BoardSize
	p.Position = to % BoardSize
	if passedGo {
		p.Balance += PassGoBonus
	}
	next.ExtraTurn = d1 == d2

	events := []Event{{
		Kind:     "dice_rolled",
		PlayerID: action.PlayerID,
		Data: map[string]interface{}{
			"dice":     []int{d1, d2},
			"from":     from,
			"to":       p.Position,
			"doubles":  d1 == d2,
			"passedGo": passedGo,
		},
	}}
	if passedGo {
		events = append(events, Event{
			Kind:     "passed_go",
			PlayerID: action.PlayerID,
			Data:     map[string]interface{}{"bonus": PassGoBonus, "balance": p.Balance},
		})
	}
	return next, events, nil
}
