package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermissionErrorClassification(t *testing.T) {
	driverErr := errors.New("NotAllowedError")
	err := fmt.Errorf("acquire: %w", &PermissionError{Reason: ErrPermissionDenied, Err: driverErr})

	var pe *PermissionError
	assert.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, err, driverErr)
	assert.NotErrorIs(t, err, ErrDeviceUnavailable)
	assert.Equal(t, "media acquisition: permission denied: NotAllowedError", pe.Error())

	bare := &PermissionError{Reason: ErrUnsupported}
	assert.ErrorIs(t, bare, ErrUnsupported)
	assert.Equal(t, "media acquisition: media capture unsupported", bare.Error())
}

func TestNegotiationErrorFatality(t *testing.T) {
	soft := &NegotiationError{Op: "add candidate", Err: errors.New("bad")}
	hard := fmt.Errorf("apply: %w", &NegotiationError{Op: "set remote", Err: errors.New("bad"), Fatal: true})

	assert.False(t, IsFatalNegotiation(soft))
	assert.True(t, IsFatalNegotiation(hard))
	assert.False(t, IsFatalNegotiation(errors.New("plain")))
}

func TestSignalingErrorUnwraps(t *testing.T) {
	err := &SignalingError{Op: "send", Err: ErrClosed}
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, "signaling send: closed", err.Error())
}
