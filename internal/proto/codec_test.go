package proto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshal_InvokeRequest(t *testing.T) {
	in := InvokeRequest{
		Procedure: "sync.apply",
		Envelope:  json.RawMessage(`{"entityId":"s1","baseVersion":7,"data":{"tags":["a","b"]}}`),
	}

	s, err := Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, "sync.apply", s.Fields["procedure"].GetStringValue())

	var out InvokeRequest
	require.NoError(t, Unmarshal(s, &out))
	assert.Equal(t, in.Procedure, out.Procedure)
	assert.JSONEq(t, string(in.Envelope), string(out.Envelope))
}

func TestMarshal_PreservesTime(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 30, 0, 123000000, time.UTC)
	s, err := Marshal(PingResponse{Status: StatusOK, Time: at})
	require.NoError(t, err)

	var out PingResponse
	require.NoError(t, Unmarshal(s, &out))
	assert.Equal(t, StatusOK, out.Status)
	assert.True(t, out.Time.Equal(at))
}

func TestMarshal_RejectsNonObject(t *testing.T) {
	_, err := Marshal([]int{1, 2})
	require.Error(t, err)
}

func TestUnmarshal_NilStruct(t *testing.T) {
	out := PingResponse{Status: "keep"}
	require.NoError(t, Unmarshal(nil, &out))
	assert.Equal(t, "keep", out.Status)
}
