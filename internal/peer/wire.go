package peer

import (
	"net/http"

	"github.com/roach88/docsync/internal/model"
)

// SessionHeader carries the replication session token.
const SessionHeader = "X-Docsync-Session"

type sessionRequest struct {
	PeerID string `json:"peer_id"`
}

type sessionResponse struct {
	Session string `json:"session"`
}

type revsRequest struct {
	Revisions []model.Revision `json:"revisions"`
}

type revsResponse struct {
	Acks []model.Ack `json:"acks"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

// statusForKind maps an error kind to an HTTP status.
func statusForKind(kind model.Kind) int {
	switch kind {
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConflict:
		return http.StatusConflict
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
