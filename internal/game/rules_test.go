package game

import (
	"testing"

	"github.com/jason-s-yu/roomcoord/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiceEnginePassGoAndDoubles(t *testing.T) {
	dice := &scriptedDice{values: []int{4, 4}}
	e := NewDiceEngine(dice.roll)
	room := models.Room{Players: []models.Player{{ID: "A", Position: 35, Balance: 100}}}

	next, events, err := e.EvaluateAction(models.GameAction{ActionType: "roll_dice", PlayerID: "A"}, room)
	require.NoError(t, err)
	assert.Equal(t, 3, next.Players[0].Position)
	assert.Equal(t, int64(100+PassGoBonus), next.Players[0].Balance)
	assert.True(t, next.ExtraTurn)
	require.Len(t, events, 2)
	assert.Equal(t, "dice_rolled", events[0].Kind)
	assert.Equal(t, "passed_go", events[1].Kind)
	assert.Equal(t, 35, room.Players[0].Position, "input room is not modified")
}

func TestDiceEngineRejectsUnknownActions(t *testing.T) {
	e := NewDiceEngine(nil)
	_, _, err := e.EvaluateAction(models.GameAction{ActionType: "buy_hotel", PlayerID: "A"}, models.Room{})
	assert.Error(t, err)
	_, _, err = e.EvaluateAction(models.GameAction{ActionType: "roll_dice", PlayerID: "Z"}, models.Room{})
	assert.Error(t, err)
}
