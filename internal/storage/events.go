package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cybershield-x/shield/internal/engine"
	"github.com/google/uuid"
)

// Recent-record query limits.
const (
	DefaultThreatLimit  = 100
	DefaultPrivacyLimit = 50
)

// ErrUnknownEventType is returned by ParsePrivacyEventType.
var ErrUnknownEventType = errors.New("unknown privacy event type")

// EventWriter is the append-only log sink.
// WriteThreat and WritePrivacy must NEVER block the caller.
type EventWriter interface {
	WriteThreat(entry *ThreatLogEntry)
	WritePrivacy(event *PrivacyEvent)
	Close()
}

// RecordSink is a synchronous store that an AsyncWriter drains into.
type RecordSink interface {
	InsertThreat(ctx context.Context, entry *ThreatLogEntry) error
	InsertPrivacy(ctx context.Context, event *PrivacyEvent) error
}

// LogReader serves recent records and retention.
type LogReader interface {
	RecentThreats(ctx context.Context, limit int) ([]ThreatLogEntry, error)
	MaliciousThreats(ctx context.Context, limit int) ([]ThreatLogEntry, error)
	RecentPrivacy(ctx context.Context, limit int) ([]PrivacyEvent, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// ThreatLogEntry records one app scoring result.
type ThreatLogEntry struct {
	ID          uuid.UUID `json:"id"`
	PackageName string    `json:"package_name"`
	AppName     string    `json:"app_name"`
	RiskScore   float64   `json:"risk_score"`
	ThreatLabel string    `json:"threat_label"`
	ThreatType  string    `json:"threat_type"`
	Reasons     []string  `json:"reasons"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewThreatLogEntry builds an entry from an assessment.
func NewThreatLogEntry(profile *engine.AppProfile, res *engine.RiskAssessment) *ThreatLogEntry {
	return &ThreatLogEntry{
		ID:          uuid.New(),
		PackageName: profile.PackageName,
		AppName:     profile.AppName,
		RiskScore:   res.Score,
		ThreatLabel: res.Label.String(),
		ThreatType:  res.ThreatType,
		Reasons:     res.Reasons,
		Source:      res.Source.String(),
		Timestamp:   time.Now().UTC(),
	}
}

// PrivacyEventType is the sensor a privacy event reports.
type PrivacyEventType string

const (
	PrivacyCamera     PrivacyEventType = "camera"
	PrivacyMicrophone PrivacyEventType = "microphone"
	PrivacyLocation   PrivacyEventType = "location"
)

// ParsePrivacyEventType validates a sensor name.
func ParsePrivacyEventType(s string) (PrivacyEventType, error) {
	switch t := PrivacyEventType(strings.ToLower(strings.TrimSpace(s))); t {
	case PrivacyCamera, PrivacyMicrophone, PrivacyLocation:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
	}
}

// PrivacyEvent records an app accessing a sensitive sensor.
type PrivacyEvent struct {
	ID          uuid.UUID        `json:"id"`
	PackageName string           `json:"package_name"`
	AppName     string           `json:"app_name"`
	EventType   PrivacyEventType `json:"event_type"`
	Timestamp   time.Time        `json:"timestamp"`
}

// ReasonsText encodes reasons as a JSON array for single-column storage.
func ReasonsText(reasons []string) string {
	if len(reasons) == 0 {
		return ""
	}
	b, _ := json.Marshal(reasons)
	return string(b)
}

// SplitReasons decodes a column written by ReasonsText.
func SplitReasons(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var reasons []string
	if err := json.Unmarshal([]byte(s), &reasons); err != nil {
		return nil, fmt.Errorf("SplitReasons: %w", err)
	}
	return reasons, nil
}
