package signal

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// payload is the relay record body of a signal. An end-of-candidates marker
// is a candidate record whose payload carries no candidate.
type payload struct {
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// Encode turns a signal into a relay record. ID and timestamp are left for
// the relay to assign.
func Encode(sig domain.Signal) (core.RelayRecord, error) {
	if err := sig.Validate(); err != nil {
		return core.RelayRecord{}, err
	}
	body, err := json.Marshal(payload{SDP: sig.SDP, Candidate: sig.Candidate})
	if err != nil {
		return core.RelayRecord{}, fmt.Errorf("encode signal: %w", err)
	}
	return core.RelayRecord{
		SenderID: sig.SenderID.String(),
		Type:     string(sig.Type),
		Payload:  body,
	}, nil
}

// Decode turns a relay record back into a signal and validates it.
func Decode(rec core.RelayRecord) (domain.Signal, error) {
	var p payload
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return domain.Signal{}, fmt.Errorf("decode signal %s: %w", rec.ID, err)
		}
	}
	sig := domain.Signal{
		ID:        rec.ID,
		SenderID:  domain.UserID(rec.SenderID),
		Type:      domain.SignalType(rec.Type),
		SDP:       p.SDP,
		Candidate: p.Candidate,
		Timestamp: rec.Timestamp,
	}
	if err := sig.Validate(); err != nil {
		return domain.Signal{}, fmt.Errorf("decode signal %s: %w", rec.ID, err)
	}
	return sig, nil
}
