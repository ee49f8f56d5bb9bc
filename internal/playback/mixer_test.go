package playback

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMixer_Maximize(t *testing.T) {
	var calls []string
	m := NewMixer([]string{"Master", "PCM"}, "100%")
	m.run = func(name string, args ...string) error {
		calls = append(calls, name+" "+strings.Join(args, " "))
		if args[1] == "Master" {
			return errors.New("unable to find simple control")
		}
		return nil
	}

	err := m.Maximize()
	assert.Equal(t, []string{"amixer set Master 100%", "amixer set PCM 100%"}, calls)
	assert.ErrorContains(t, err, "amixer set Master")
	assert.NotContains(t, err.Error(), "PCM")
}

func TestMixer_NoControls(t *testing.T) {
	m := NewMixer(nil, "100%")
	m.run = func(string, ...string) error { t.Fatal("unexpected amixer call"); return nil }
	assert.NoError(t, m.Maximize())
}
