package modem

import "time"

// Stats is a snapshot of modem counters.
type Stats struct {
	FramesFromSerial uint64 `json:"frames_from_serial"`
	FramesToSerial   uint64 `json:"frames_to_serial"`
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsSent      uint64 `json:"packets_sent"`
	// Dropped counts decoder resets and rejected requests.
	Dropped     uint64        `json:"dropped"`
	Airtime     time.Duration `json:"-"`
	AirtimeSecs uint32        `json:"airtime_secs"`
	UptimeSecs  uint32        `json:"uptime_secs"`
	LastRSSI    int16         `json:"last_rssi"`
	// LastSNR is in quarter dB.
	LastSNR int16 `json:"last_snr"`
}
