package probe

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Recorder collects the ordered TestLogEntry list returned in a result and
// mirrors every entry to an injected process logger. Structured entries feed
// persistence; the process logger feeds operational tailing.
//
// Secrets registered with Redact never reach either sink.
type Recorder struct {
	mu      sync.Mutex
	entries []TestLogEntry
	logger  *slog.Logger
	source  string
	secrets []string
}

// NewRecorder returns a recorder for one runner invocation. The process
// logger is annotated with the runner and application so its lines can be
// filtered the same way the structured entries are grouped.
func NewRecorder(logger *slog.Logger, source, applicationID string) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{
		logger: logger.With("runner", source, "application_id", applicationID),
		source: source,
	}
}

// Redact registers a secret to be masked in all subsequent entries.
func (r *Recorder) Redact(secret string) {
	if secret == "" {
		return
	}
	r.mu.Lock()
	r.secrets = append(r.secrets, secret)
	r.mu.Unlock()
}

func (r *Recorder) Debug(msg string, data map[string]any) { r.log(LogDebug, msg, data) }
func (r *Recorder) Info(msg string, data map[string]any)  { r.log(LogInfo, msg, data) }
func (r *Recorder) Warn(msg string, data map[string]any)  { r.log(LogWarn, msg, data) }
func (r *Recorder) Error(msg string, data map[string]any) { r.log(LogError, msg, data) }

func (r *Recorder) log(level LogLevel, msg string, data map[string]any) {
	r.mu.Lock()
	msg = r.mask(msg)
	clean := r.maskData(data)
	r.entries = append(r.entries, TestLogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Data:      clean,
		Source:    r.source,
	})
	r.mu.Unlock()

	attrs := make([]any, 0, len(clean)*2)
	for k, v := range clean {
		attrs = append(attrs, k, v)
	}
	switch level {
	case LogDebug:
		r.logger.Debug(msg, attrs...)
	case LogWarn:
		r.logger.Warn(msg, attrs...)
	case LogError:
		r.logger.Error(msg, attrs...)
	default:
		r.logger.Info(msg, attrs...)
	}
}

func (r *Recorder) mask(s string) string {
	for _, secret := range r.secrets {
		s = strings.ReplaceAll(s, secret, "[redacted]")
	}
	return s
}

func (r *Recorder) maskData(data map[string]any) map[string]any {
	if len(data) == 0 {
		return nil
	}
	clean := make(map[string]any, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			clean[k] = r.mask(s)
		} else {
			clean[k] = v
		}
	}
	return clean
}

// Entries returns the ordered structured log, ready to attach to a result.
func (r *Recorder) Entries() []TestLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TestLogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
