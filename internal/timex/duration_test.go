package timex

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_JSON(t *testing.T) {
	var v struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"5s","b":1000000000}`), &v))
	require.Equal(t, 5*time.Second, v.A.Duration)
	require.Equal(t, time.Second, v.B.Duration)

	out, err := json.Marshal(v.A)
	require.NoError(t, err)
	require.Equal(t, `"5s"`, string(out))
}

func TestDuration_JSONInvalid(t *testing.T) {
	var d Duration
	require.Error(t, json.Unmarshal([]byte(`"five"`), &d))
	require.Error(t, json.Unmarshal([]byte(`true`), &d))
}

func TestDuration_YAML(t *testing.T) {
	var v struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 1h\nb: 2000000000\n"), &v))
	require.Equal(t, time.Hour, v.A.Duration)
	require.Equal(t, 2*time.Second, v.B.Duration)
}
