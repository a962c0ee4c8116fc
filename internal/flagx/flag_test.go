package flagx

import (
	"os"
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
			name:    "separate value",
			args:    []string{"-c", "keepsake.yaml", "-a", ":8080"},
			allowed: []string{"-c"},
			want:    []string{"-c", "keepsake.yaml"},
		},
		{
			name:    "equals form",
			args:    []string{"-config=keepsake.json", "-d", "dsn"},
			allowed: []string{"-config"},
			want:    []string{"-config=keepsake.json"},
		},
		{
			name:    "dash token is not a value",
			args:    []string{"-c", "-x"},
			allowed: []string{"-c"},
			want:    []string{"-c"},
		},
		{
			name:    "unknown flags dropped",
			args:    []string{"-x", "1", "--y=2", "positional"},
			allowed: []string{"-c"},
			want:    []string{},
		},
		{
			name:    "order and repeats preserved",
			args:    []string{"-q", "redis", "-c", "a.json", "-q", "memory"},
			allowed: []string{"-q"},
			want:    []string{"-q", "redis", "-q", "memory"},
		},
		{
			name:    "empty",
			args:    nil,
			allowed: []string{"-c"},
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowed))
		})
	}
}

func TestConfigFileFlag(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	os.Args = []string{"server", "-c", "/etc/keepsake.yaml", "-a", ":9000"}
	assert.Equal(t, "/etc/keepsake.yaml", ConfigFileFlag())

	os.Args = []string{"server", "-config=/etc/keepsake.json"}
	assert.Equal(t, "/etc/keepsake.json", ConfigFileFlag())

	os.Args = []string{"server", "-a", ":9000"}
	assert.Empty(t, ConfigFileFlag())
}
