package sprout

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersion(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = "v1.2.3"
	info := GetVersion()
	assert.Equal(t, "v1.2.3", info.Version)
	assert.True(t, strings.HasPrefix(info.String(), "sprout v1.2.3 (built unknown"))

	Version = ""
	assert.NotEmpty(t, GetVersion().Version)
}
