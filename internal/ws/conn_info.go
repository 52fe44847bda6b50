package ws

import "time"

// ConnInfo describes one websocket link for logs and lifecycle events.
type ConnInfo struct {
	ConnID      string
	AuthUserID  string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) identity() map[string]any {
	return map[string]any{
		"user_id":   i.AuthUserID,
		"device_id": i.DeviceID,
		"ip":        i.IP,
	}
}
