package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/powerlogic-core/internal/infrastructure/mqtt"
)

// SourceScheduler tags entries written by the control process.
const SourceScheduler = "powerlogic"

// filePermissions for the diagnostic log file.
const filePermissions = 0o640

// Sink receives diagnostic entries. Implementations never fail the caller.
type Sink interface {
	AppendDiagnostic(ctx context.Context, message string, at time.Time)
}

// deviceRef extracts the quoted device name from a diagnostic message.
var deviceRef = regexp.MustCompile(`device '([^']*)'`)

// FileSink appends diagnostics to a text file, one line per entry.
type FileSink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	stderr io.Writer
}

// NewFileSink opens (creating if needed) the diagnostic file at path.
func NewFileSink(path string) (*FileSink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrNoPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil { //nolint:mnd // directory permissions
		return nil, fmt.Errorf("creating diagnostic directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePermissions) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("opening diagnostic file: %w", err)
	}
	return &FileSink{path: path, file: f, stderr: os.Stderr}, nil
}

// AppendDiagnostic writes "<RFC3339 instant> <message>" to the file.
func (s *FileSink) AppendDiagnostic(_ context.Context, message string, at time.Time) {
	line := at.UTC().Format(time.RFC3339) + " " + singleLine(message) + "\n"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		fmt.Fprintf(s.stderr, "audit: diagnostic file %s closed: %s", s.path, line) //nolint:errcheck // last resort
		return
	}
	if _, err := s.file.WriteString(line); err != nil {
		fmt.Fprintf(s.stderr, "audit: writing %s: %v: %s", s.path, err, line) //nolint:errcheck // last resort
	}
}

// Path returns the file the sink writes to.
func (s *FileSink) Path() string {
	return s.path
}

// Close closes the file. Later entries go to stderr.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// SQLiteSink records diagnostics as audit log rows.
type SQLiteSink struct {
	repo   Repository
	source string
	stderr io.Writer
}

// NewSQLiteSink creates a sink writing through repo.
func NewSQLiteSink(repo Repository) *SQLiteSink {
	return &SQLiteSink{repo: repo, source: SourceScheduler, stderr: os.Stderr}
}

// AppendDiagnostic inserts one diagnostic row. Messages naming a device are
// tagged with it so they can be listed per device.
func (s *SQLiteSink) AppendDiagnostic(ctx context.Context, message string, at time.Time) {
	entry := &AuditLog{
		Action:     ActionDiagnostic,
		EntityType: "system",
		Source:     s.source,
		Message:    message,
		CreatedAt:  at.UTC(),
	}
	if m := deviceRef.FindStringSubmatch(message); m != nil {
		entry.EntityType = "device"
		entry.EntityID = m[1]
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		fmt.Fprintf(s.stderr, "audit: recording diagnostic: %v: %s\n", err, singleLine(message)) //nolint:errcheck // last resort
	}
}

// Publisher is the subset of the MQTT client used to mirror diagnostics.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// DiagnosticMessage is the JSON payload mirrored to MQTT.
type DiagnosticMessage struct {
	Message string    `json:"message"`
	Device  string    `json:"device,omitempty"`
	At      time.Time `json:"at"`
}

// MQTTSink mirrors diagnostics to the powerlogic/diagnostics topic.
type MQTTSink struct {
	publisher Publisher
	topic     string
	stderr    io.Writer
}

// NewMQTTSink creates a sink publishing through publisher.
func NewMQTTSink(publisher Publisher) *MQTTSink {
	return &MQTTSink{publisher: publisher, topic: mqtt.Topics{}.Diagnostics(), stderr: os.Stderr}
}

// AppendDiagnostic publishes one diagnostic message.
func (s *MQTTSink) AppendDiagnostic(_ context.Context, message string, at time.Time) {
	msg := DiagnosticMessage{Message: message, At: at.UTC()}
	if m := deviceRef.FindStringSubmatch(message); m != nil {
		msg.Device = m[1]
	}
	if err := s.publisher.PublishJSON(s.topic, msg, false); err != nil {
		fmt.Fprintf(s.stderr, "audit: publishing diagnostic: %v: %s\n", err, singleLine(message)) //nolint:errcheck // last resort
	}
}

// MultiSink fans entries out to every sink in order.
type MultiSink []Sink

// AppendDiagnostic forwards the entry to each non-nil sink.
func (m MultiSink) AppendDiagnostic(ctx context.Context, message string, at time.Time) {
	for _, s := range m {
		if s != nil {
			s.AppendDiagnostic(ctx, message, at)
		}
	}
}

func singleLine(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r", " "), "\n", " ")
}
