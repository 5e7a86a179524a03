//go:build !mediadevices

package main

import (
	"github.com/dkeye/peercall/internal/adapters/media"
	"github.com/dkeye/peercall/internal/core"
)

func newDevices() (core.MediaDevices, error) {
	return media.NewStaticDevices(media.WithGenerator()), nil
}
