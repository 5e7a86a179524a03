//go:build mediadevices

package main

import (
	"github.com/dkeye/peercall/internal/adapters/media"
	"github.com/dkeye/peercall/internal/core"
)

func newDevices() (core.MediaDevices, error) {
	d, err := media.NewCaptureDevices()
	if err != nil {
		return nil, err
	}
	return d, nil
}
