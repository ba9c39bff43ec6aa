package flagx

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		allowed []string
		want    []string
	}{
		{
			name:    "config flag picked out of client args",
			args:    []string{"sync", "-c", "famsync.json", "-a", "authority:50051"},
			allowed: []string{"-c", "-config"},
			want:    []string{"-c", "famsync.json"},
		},
		{
			name:    "equals form",
			args:    []string{"-config=/etc/famsync.json", "-d", "local.db"},
			allowed: []string{"-c", "-config"},
			want:    []string{"-config=/etc/famsync.json"},
		},
		{
			name:    "several allowed flags keep their order",
			args:    []string{"-d", "local.db", "-x", "1", "-a", "authority:50051"},
			allowed: []string{"-a", "-d"},
			want:    []string{"-d", "local.db", "-a", "authority:50051"},
		},
		{
			name:    "dangling flag without value",
			args:    []string{"-a"},
			allowed: []string{"-a"},
			want:    []string{"-a"},
		},
		{
			name:    "next flag is not taken as a value",
			args:    []string{"-a", "-batching"},
			allowed: []string{"-a"},
			want:    []string{"-a"},
		},
		{
			name:    "nothing allowed matches",
			args:    []string{"entity", "list", "message"},
			allowed: []string{"-c"},
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterArgs(tt.args, tt.allowed)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("FilterArgs() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestConfigFileFlag(t *testing.T) {
	t.Setenv(ConfigEnvVar, "")

	t.Run("short -c with value", func(t *testing.T) {
		assert.Equal(t, "/path/short.json", ConfigFileFlag([]string{"-c", "/path/short.json"}))
	})

	t.Run("long -config with value", func(t *testing.T) {
		assert.Equal(t, "/path/long.json", ConfigFileFlag([]string{"-config", "/path/long.json"}))
	})

	t.Run("unknown flags are ignored", func(t *testing.T) {
		assert.Empty(t, ConfigFileFlag([]string{"-x", "1", "-y", "2"}))
	})

	t.Run("last flag wins", func(t *testing.T) {
		assert.Equal(t, "/path/2.json", ConfigFileFlag([]string{"-c", "/path/1.json", "-config", "/path/2.json"}))
	})

	t.Run("flag beats environment", func(t *testing.T) {
		t.Setenv(ConfigEnvVar, "/etc/famsync.yaml")
		assert.Equal(t, "local.json", ConfigFileFlag([]string{"-c", "local.json"}))
	})

	t.Run("environment fallback", func(t *testing.T) {
		t.Setenv(ConfigEnvVar, "/etc/famsync.yaml")
		assert.Equal(t, "/etc/famsync.yaml", ConfigFileFlag(nil))
	})
}
