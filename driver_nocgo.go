//go:build !cgo

package main

// without cgo there is no rtmidi, so gomidi has no ports to offer
const haveMIDIDriver = false
