//go:build !cgo

package main

const haveMIDIDriver = false
