package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSingleObject(t *testing.T) {
	envs, err := Decode([]byte(`{"type":"end_turn"}`))
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, TypeEndTurn, envs[0].Type)
}

func TestDecodeCoalescedObjects(t *testing.T) {
	frame := []byte(`{"type":"get_active_players"}{"type":"chat","message":"a } b { \"c\""}` + "\n" + `{"type":"verify_host"}`)
	envs, err := Decode(frame)
	require.NoError(t, err)
	require.Len(t, envs, 3)
	assert.Equal(t, TypeGetActivePlayers, envs[0].Type)
	assert.Equal(t, TypeChat, envs[1].Type)
	assert.Equal(t, TypeVerifyHost, envs[2].Type)

	var chat ChatIn
	require.NoError(t, envs[1].Unmarshal(&chat))
	assert.Equal(t, `a } b { "c"`, chat.Message)
}

func TestDecodeKeepsGoodObjectsAroundGarbage(t *testing.T) {
	envs, err := Decode([]byte(`garbage{"type":"ping"}{"no_type":1}{"type":"end_turn"`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedFrame))
	require.Len(t, envs, 1)
	assert.Equal(t, TypePing, envs[0].Type)
}

func TestSplitObjectsNested(t *testing.T) {
	objs, rest := SplitObjects([]byte(`{"a":{"b":{}}}{"c":[1,{"d":2}]}`))
	require.Len(t, objs, 2)
	assert.Equal(t, `{"a":{"b":{}}}`, string(objs[0]))
	assert.Equal(t, `{"c":[1,{"d":2}]}`, string(objs[1]))
	assert.Empty(t, rest)
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(SessionSupersededError))
	assert.False(t, Retryable(PlayerForfeitedError))
	assert.False(t, Retryable(ReconnectTokenUsedError))
	assert.True(t, Retryable(HandshakeTimeoutError))
	assert.True(t, Retryable(SlowConsumerError))
	assert.True(t, Retryable(1006))
}
