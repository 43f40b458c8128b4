// SPDX-License-Identifier: MIT
package transport

import (
	"fmt"

	"soundscope/internal/analysis"
	"soundscope/internal/log"
)

// LoggingTransport implements the Transport interface by logging each event
// at debug level. Bulky payloads are summarised.
type LoggingTransport struct {
	log *log.Logger
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	lt := &LoggingTransport{log: log.Named("LoggingTransport")}
	lt.log.Infof("logging bus events at debug level")
	return lt
}

// Send logs the message. It never fails.
func (lt *LoggingTransport) Send(msg Message) error {
	lt.log.Debugf("%s[%d] %s", msg.Signal, msg.Sender, summarize(msg.Payload))
	return nil
}

func summarize(payload any) string {
	switch p := payload.(type) {
	case []int16:
		return fmt.Sprintf("%d samples", len(p))
	case []float64:
		return fmt.Sprintf("%d bins", len(p))
	case analysis.Spectrogram:
		return fmt.Sprintf("%dx%d tile", len(p.Data), len(p.Times))
	case analysis.Note:
		if p.Name == analysis.NoteNA {
			return p.Name
		}
		return fmt.Sprintf("%s %+d cents", p.Name, p.CentsOff)
	case float64:
		return fmt.Sprintf("%.2f", p)
	}
	return fmt.Sprintf("%v", payload)
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
