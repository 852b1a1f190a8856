package theme

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type RGB [3]uint8

// Palette is an ordered color ramp. Roles pick positions along it.
type Palette struct {
	Name   string
	Colors []RGB
}

// Plasma is the built-in palette, dark purple through to yellow.
func Plasma() *Palette {
	return &Palette{
		Name: "plasma",
		Colors: []RGB{
			{13, 8, 135},
			{75, 3, 161},
			{125, 3, 168},
			{168, 34, 150},
			{203, 70, 121},
			{229, 107, 93},
			{248, 148, 65},
			{253, 195, 40},
			{240, 249, 33},
		},
	}
}

// LoadGPL reads a GIMP palette file.
func LoadGPL(path string) (*Palette, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open palette")
	}
	defer f.Close()

	p, err := ParseGPL(f)
	if err != nil {
		return nil, errors.Wrapf(err, "palette %s", path)
	}
	return p, nil
}

// ParseGPL reads the GIMP palette format: a header, optional Name and
// Columns lines, comments starting with '#', then one "R G B [label]" line
// per color. Lines that do not parse are skipped.
func ParseGPL(r io.Reader) (*Palette, error) {
	p := &Palette{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "", line[0] == '#', strings.HasPrefix(line, "GIMP"), strings.HasPrefix(line, "Columns"):
		case strings.HasPrefix(line, "Name:"):
			p.Name = strings.TrimSpace(line[len("Name:"):])
		default:
			if c, ok := parseRGB(strings.Fields(line)); ok {
				p.Colors = append(p.Colors, c)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(p.Colors) == 0 {
		return nil, errors.New("no colors found")
	}
	return p, nil
}

func parseRGB(fields []string) (RGB, bool) {
	var c RGB
	if len(fields) < 3 {
		return c, false
	}
	for i := range c {
		v, err := strconv.Atoi(fields[i])
		if err != nil || v < 0 || v > 255 {
			return c, false
		}
		c[i] = uint8(v)
	}
	return c, true
}

// LoadOrDefault loads path, falling back to Plasma when path is empty or
// unreadable.
func LoadOrDefault(path string) (*Palette, error) {
	if path == "" {
		return Plasma(), nil
	}
	p, err := LoadGPL(path)
	if err != nil {
		return Plasma(), err
	}
	return p, nil
}

// Lookup interpolates the color at norm, clamped to 0-1.
func (p *Palette) Lookup(norm float64) RGB {
	last := len(p.Colors) - 1
	switch {
	case norm <= 0:
		return p.Colors[0]
	case norm >= 1:
		return p.Colors[last]
	}
	pos := norm * float64(last)
	i := int(pos)
	t := pos - float64(i)
	a, b := p.Colors[i], p.Colors[i+1]
	var out RGB
	for k := range out {
		out[k] = uint8(float64(a[k])*(1-t) + float64(b[k])*t)
	}
	return out
}
