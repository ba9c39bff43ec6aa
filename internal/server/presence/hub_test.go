package presence

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/famsync/internal/logging"
	"github.com/dmitrijs2005/famsync/internal/server/models"
)

func TestNotify_SkipsOriginAndOtherUsers(t *testing.T) {
	h := NewHub(logging.Nop())
	origin := &conn{userID: "u1", deviceID: "a", send: make(chan []byte, 1)}
	peer := &conn{userID: "u1", deviceID: "b", send: make(chan []byte, 1)}
	stranger := &conn{userID: "u2", deviceID: "c", send: make(chan []byte, 1)}
	for _, c := range []*conn{origin, peer, stranger} {
		h.register(c)
	}
	assert.Equal(t, 2, h.Count("u1"))

	h.Notify("u1", models.Change{EntityType: "event", EntityID: "e1", Version: 4, DeviceID: "a"})

	assert.Empty(t, origin.send)
	assert.Empty(t, stranger.send)
	require.Len(t, peer.send, 1)

	var msg Message
	require.NoError(t, json.Unmarshal(<-peer.send, &msg))
	assert.Equal(t, MessageTypeChange, msg.Type)
	assert.Equal(t, "e1", msg.Payload.EntityID)
}

func TestNotify_DropsWhenBufferFull(t *testing.T) {
	h := NewHub(logging.Nop())
	c := &conn{userID: "u1", deviceID: "b", send: make(chan []byte, 1)}
	h.register(c)

	h.Notify("u1", models.Change{EntityID: "1"})
	h.Notify("u1", models.Change{EntityID: "2"})

	require.Len(t, c.send, 1)
	var msg Message
	require.NoError(t, json.Unmarshal(<-c.send, &msg))
	assert.Equal(t, "1", msg.Payload.EntityID)
}

func TestCount_UnknownUser(t *testing.T) {
	assert.Equal(t, 0, NewHub(logging.Nop()).Count("nobody"))
}
