package grammar

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestName(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"library/ubuntu", true},
		{"registry.example.com/team/app", true},
		{"", false},
		{"UPPER/CASE", false},
		{"ubuntu:latest", false}, // must not carry a tag
	}
	for _, c := range cases {
		_, err := Name(c.name)
		if c.valid {
			assert.NoErrorf(t, err, "Name(%q)", c.name)
		} else {
			assert.Errorf(t, err, "Name(%q)", c.name)
		}
	}
}

func TestTagDefaultsToLatest(t *testing.T) {
	tag, err := Tag("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTag, tag)
}

func TestTagRejectsGarbage(t *testing.T) {
	_, err := Tag(strings.Repeat("x", 200))
	assert.Error(t, err)
}

func TestLocal(t *testing.T) {
	_, err := Local("my-image_1.0")
	assert.NoError(t, err)

	_, err = Local("-leading-dash")
	assert.Error(t, err)
}

func TestLayerID(t *testing.T) {
	assert.NoError(t, LayerID(strings.Repeat("a", 64)))
	assert.Error(t, LayerID(strings.Repeat("a", 63)))
	assert.Error(t, LayerID("not-hex-at-all-"+strings.Repeat("0", 49)))
}
