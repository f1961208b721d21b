package observability

import (
	"testing"
	"time"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordFrameSent("data")
	RecordFrameReceived("plain")
	ObserveControlRoundTrip(8 * time.Millisecond)
	RecordReconnect()
	SetSessionState(3)
	RecordUploadChunk()
	RecordUploadFailure()
	SetBattery(87)
	RecordHTTPRequest("GET", "/health", 200, 12*time.Millisecond)
}
