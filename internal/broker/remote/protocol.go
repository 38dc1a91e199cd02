// Package remote implements the terminal server wire protocol: an
// authenticated websocket session carrying versioned JSON frames with
// independently toggleable data and order-routing capabilities.
package remote

import (
	"encoding/json"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// ProtocolVersion is the frame version this build speaks. Client and server
// may differ in patch version only.
const ProtocolVersion = "1.0.0"

type FrameType string

const (
	FrameAuth        FrameType = "auth"
	FrameAuthAck     FrameType = "auth_ack"
	FrameSubmitOrder FrameType = "submit_order"
	FrameSubmitAck   FrameType = "submit_ack"
	FrameCancelOrder FrameType = "cancel_order"
	FrameCancelAck   FrameType = "cancel_ack"
	FramePollFills   FrameType = "poll_fills"
	FrameFills       FrameType = "fills"
	FrameError       FrameType = "error"
)

// Frame is the wire envelope. Payload encoding depends on Type.
type Frame struct {
	Version string          `json:"version"`
	Type    FrameType       `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Capabilities are the two independently toggleable session features.
type Capabilities struct {
	Data   bool `json:"data"`
	Orders bool `json:"orders"`
}

type AuthRequest struct {
	Token        string       `json:"token"`
	Capabilities Capabilities `json:"capabilities"`
}

type AuthResponse struct {
	OK            bool         `json:"ok"`
	Message       string       `json:"message,omitempty"`
	Capabilities  Capabilities `json:"capabilities"`
	ServerVersion string       `json:"server_version"`
}

type SubmitRequest struct {
	Order types.Order `json:"order"`
}

type SubmitResponse struct {
	ClientID     string             `json:"client_id"`
	Accepted     bool               `json:"accepted"`
	RejectReason types.RejectReason `json:"reject_reason,omitempty"`
	Message      string             `json:"message,omitempty"`
}

type CancelRequest struct {
	ClientID string `json:"client_id"`
}

type CancelResponse struct {
	ClientID string `json:"client_id"`
	OK       bool   `json:"ok"`
}

type FillsResponse struct {
	Fills []types.Fill `json:"fills"`
}

type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewFrame builds a frame with an encoded payload.
func NewFrame(frameType FrameType, seq uint64, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, errors.Wrap(errors.ErrCodeInvalidParameter, "failed to encode frame payload", err)
	}

	return Frame{
		Version: ProtocolVersion,
		Type:    frameType,
		Seq:     seq,
		Payload: raw,
	}, nil
}

// Decode unpacks the frame payload into the given value.
func (f Frame) Decode(into any) error {
	if err := json.Unmarshal(f.Payload, into); err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidParameter, err, "failed to decode %s payload", f.Type)
	}

	return nil
}

// CheckVersion verifies the peer speaks a compatible protocol: major and
// minor must match exactly, patch may differ.
func CheckVersion(peerVersion string) error {
	local := semver.MustParse(ProtocolVersion)

	peer, err := semver.NewVersion(strings.TrimPrefix(peerVersion, "v"))
	if err != nil {
		return errors.Wrapf(errors.ErrCodeProtocolVersionMismatch, err, "invalid peer protocol version %q", peerVersion)
	}

	if peer.Major() != local.Major() || peer.Minor() != local.Minor() {
		return errors.Newf(errors.ErrCodeProtocolVersionMismatch,
			"incompatible protocol version: local %s, peer %s", ProtocolVersion, peerVersion)
	}

	return nil
}
