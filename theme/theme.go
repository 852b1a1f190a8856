package theme

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"go-sequencer/sequencer"
)

type Theme struct {
	Palette *Palette
	Symbols Symbols
}

type Symbols struct {
	Stopped   rune // ■
	Playing   rune // ▶
	Recording rune // ●
	Pending   rune // ◌ starting or stopping
	Loop      rune // ↻

	BeatOn   rune // ● current beat
	BeatOff  rune // · other beats
	Downbeat rune // ◆ first beat of the bar
}

func New(palette *Palette) *Theme {
	return &Theme{
		Palette: palette,
		Symbols: Symbols{
			Stopped:   '■',
			Playing:   '▶',
			Recording: '●',
			Pending:   '◌',
			Loop:      '↻',

			BeatOn:   '●',
			BeatOff:  '·',
			Downbeat: '◆',
		},
	}
}

// Color roles mapped to palette positions (0-1)
const (
	RoleBG      = 0.0
	RoleSurface = 0.1
	RoleMuted   = 0.2
	RoleFG      = 0.4
	RoleAccent  = 0.5
	RoleCursor  = 0.6
	RoleActive  = 0.7
	RoleWarning = 0.8
	RoleSuccess = 1.0
)

// Style helpers

func (t *Theme) BG() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleBG))
}

func (t *Theme) FG() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleFG))
}

func (t *Theme) Accent() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleAccent))
}

func (t *Theme) Muted() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleMuted))
}

func (t *Theme) Active() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleActive))
}

func (t *Theme) Warning() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleWarning))
}

func (t *Theme) Success() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleSuccess))
}

// StatusSymbol picks the glyph shown for a transport status.
func (t *Theme) StatusSymbol(s sequencer.TransportStatus) rune {
	switch s {
	case sequencer.Playing:
		return t.Symbols.Playing
	case sequencer.Recording:
		return t.Symbols.Recording
	case sequencer.StartingToPlay, sequencer.StartingToRecord, sequencer.Stopping:
		return t.Symbols.Pending
	}
	return t.Symbols.Stopped
}

// StatusColor is the color for a transport status.
func (t *Theme) StatusColor(s sequencer.TransportStatus) lipgloss.Color {
	switch s {
	case sequencer.Playing:
		return t.Success()
	case sequencer.Recording:
		return t.Active()
	case sequencer.StartingToPlay, sequencer.StartingToRecord, sequencer.Stopping:
		return t.Warning()
	}
	return t.Muted()
}

// Color returns lipgloss color for any normalized value 0-1
func (t *Theme) Color(norm float64) lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(norm))
}

func rgbToLipgloss(c RGB) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2]))
}
