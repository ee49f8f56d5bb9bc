package playback

import (
	"errors"
	"fmt"
	"os/exec"
)

// Mixer sets ALSA mixer levels through amixer.
type Mixer struct {
	Controls []string
	Volume   string
	run      func(name string, args ...string) error
}

func NewMixer(controls []string, volume string) *Mixer {
	return &Mixer{Controls: controls, Volume: volume, run: runQuiet}
}

// Maximize sets every control to the configured volume. All controls are
// attempted even if one fails.
func (m *Mixer) Maximize() error {
	var errs []error
	for _, c := range m.Controls {
		if err := m.run("amixer", "set", c, m.Volume); err != nil {
			errs = append(errs, fmt.Errorf("amixer set %s: %w", c, err))
		}
	}
	return errors.Join(errs...)
}

func runQuiet(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}
