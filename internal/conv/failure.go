package conv

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProcessOutput captures one finished subprocess for a failure report.
type ProcessOutput struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// FailureReport is the POST /failure body. The ffmepg_conversion spelling is
// part of the wire format and must not be corrected.
type FailureReport struct {
	UUID         string        `json:"uuid"`
	TimestampUTC time.Time     `json:"timestamp_utc"`
	Conversion   ProcessOutput `json:"ffmepg_conversion"`
	RsyncFrom    ProcessOutput `json:"rsync_from"`
	RsyncTo      ProcessOutput `json:"rsync_to"`
}

// EncodeFailure renders the report as the JSON body POSTed to /failure.
func EncodeFailure(r FailureReport) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("conv: encode failure report: %w", err)
	}
	return string(b), nil
}

// Summary renders the one-line form used in coordinator logs.
func (r FailureReport) Summary() string {
	return fmt.Sprintf("conversion exit=%d rsync_from exit=%d rsync_to exit=%d",
		r.Conversion.ExitCode, r.RsyncFrom.ExitCode, r.RsyncTo.ExitCode)
}
