package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
devices:
  - name: flash0
    kind: memory
    size: 524288
    block_size: 256
mounts:
  - path: /
    backend: memory
  - path: /Data/archive
    backend: memory
  - path: /Data
    backend: flash
    device: flash0
    format: true
`

func TestParseConfig(t *testing.T) {
	config, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	require.Len(t, config.Devices, 1)
	assert.Equal(t, "flash0", config.Devices[0].Name)
	assert.Equal(t, uint64(524288), config.Devices[0].Size)
	assert.Equal(t, 256, config.Devices[0].BlockSize)
	require.Len(t, config.Mounts, 3)
}

func TestParseConfigRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown backend", "mounts:\n  - path: /\n    backend: nfs\n"},
		{"relative mount", "mounts:\n  - path: data\n    backend: memory\n"},
		{"duplicate mount", "mounts:\n  - path: /a\n    backend: memory\n  - path: /a\n    backend: memory\n"},
		{"flash without device", "mounts:\n  - path: /\n    backend: flash\n    device: nope\n"},
		{"zero-size device", "devices:\n  - name: d\n    kind: memory\n    size: 0\n    block_size: 256\n"},
		{"unknown device kind", "devices:\n  - name: d\n    kind: nvme\n    size: 1024\n    block_size: 256\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestMountOrder(t *testing.T) {
	config, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	ordered, err := config.MountOrder()
	require.NoError(t, err)
	require.Len(t, ordered, 3)

	position := make(map[string]int, len(ordered))
	for i, m := range ordered {
		position[m.Path] = i
	}

	// Every parent prefix mounts before anything nested under it.
	assert.Less(t, position["/"], position["/Data"])
	assert.Less(t, position["/Data"], position["/Data/archive"])
}
