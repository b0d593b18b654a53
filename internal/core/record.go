package core

import "time"

// Protocol is the protocol recorded for every transfer parsed from a GridFTP
// transfer log.
const Protocol = "gridftp"

// TimestampLayout renders transfer times and report date ranges.
const TimestampLayout = "2006-01-02 15:04:05"

// Transfer types counted by the quarterly report. Other types are stored but
// never aggregated.
var ReportedTypes = []string{"ESTO", "ERET", "STOR", "RETR"}

// TransferRecord is one file transfer parsed from a single log line.
type TransferRecord struct {
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Protocol       string    `json:"protocol"`
	ServerHostname string    `json:"server_hostname"`
	DestHosts      []string  `json:"dest_hosts"`
	Username       string    `json:"username"`
	ClientSoftware string    `json:"client_software"`
	NLEvent        string    `json:"nl_event"`
	Filename       string    `json:"filename"`
	Buffer         int64     `json:"buffer"`
	Block          int64     `json:"block"`
	Bytes          int64     `json:"bytes"`
	Volume         string    `json:"volume"`
	Streams        int       `json:"streams"`
	Stripes        int       `json:"stripes"`
	Type           string    `json:"type"`
	Code           int       `json:"code"`
}

// Duration returns the elapsed wall time of the transfer.
func (r *TransferRecord) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// IsReported reports whether the transfer type is one the quarterly report
// aggregates.
func (r *TransferRecord) IsReported() bool {
	for _, t := range ReportedTypes {
		if r.Type == t {
			return true
		}
	}
	return false
}
