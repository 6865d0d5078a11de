package network

import "time"

// UplinkMessage is one radio uplink as forwarded by the bridge. Payload is the
// raw frame; JSON carries it base64 encoded.
type UplinkMessage struct {
	DevEUI   string    `json:"devEui"`
	DevAddr  string    `json:"devAddr"`
	FPort    uint8     `json:"fPort"`
	FCnt     uint32    `json:"fCnt"`
	DataRate uint8     `json:"dataRate"`
	Payload  []byte    `json:"payload"`
	SentAt   time.Time `json:"sentAt"`
}
