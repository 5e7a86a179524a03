package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dkeye/peercall/internal/app/call"
	"github.com/dkeye/peercall/internal/domain"
)

func snap(status domain.Status, outcome domain.Outcome, reason domain.Reason) call.Snapshot {
	return call.Snapshot{Status: status, Text: status.Text(), Outcome: outcome, Reason: reason}
}

func TestFailureShowsOneToast(t *testing.T) {
	paths := map[string][]call.Snapshot{
		"ice failed": {
			snap(domain.StatusInCall, domain.OutcomeNone, domain.ReasonNone),
			snap(domain.StatusError, domain.OutcomeError, domain.ReasonConnectionFailed),
			snap(domain.StatusEnded, domain.OutcomeError, domain.ReasonConnectionFailed),
		},
		"permission denied": {
			snap(domain.StatusCheckingPermissions, domain.OutcomeNone, domain.ReasonNone),
			snap(domain.StatusPermissionsDenied, domain.OutcomeError, domain.ReasonPermissionDenied),
			snap(domain.StatusEnded, domain.OutcomeError, domain.ReasonPermissionDenied),
		},
	}
	for name, path := range paths {
		t.Run(name, func(t *testing.T) {
			errors := 0
			for _, s := range path {
				if kind, _ := notice(s); kind == noticeError {
					errors++
				}
			}
			assert.Equal(t, 1, errors)
		})
	}
}

func TestNoticeForEndings(t *testing.T) {
	kind, msg := notice(snap(domain.StatusEnded, domain.OutcomeMissed, domain.ReasonNoAnswer))
	assert.Equal(t, noticeWarning, kind)
	assert.Equal(t, "Missed call (no answer)", msg)

	kind, msg = notice(snap(domain.StatusEnded, domain.OutcomeEnded, domain.ReasonHangup))
	assert.Equal(t, noticeInfo, kind)
	assert.Equal(t, "Call ended (hangup)", msg)

	kind, _ = notice(snap(domain.StatusError, domain.OutcomeError, domain.ReasonTimeout))
	assert.Equal(t, noticeNone, kind)

	kind, _ = notice(snap(domain.StatusIdle, domain.OutcomeNone, domain.ReasonNone))
	assert.Equal(t, noticeNone, kind)
}
