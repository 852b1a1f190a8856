//go:build cgo

package main

import (
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

const haveMIDIDriver = true
