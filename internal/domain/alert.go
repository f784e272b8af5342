package domain

import "time"

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// Alert: активная (или завершенная, если ResolvedAt заполнен) тревога.
type Alert struct {
	ID               string     `json:"alert_id"`
	Severity         Severity   `json:"severity"`
	Message          string     `json:"message"`
	Value            float64    `json:"value"`
	Threshold        float64    `json:"threshold"`
	FirstTriggeredAt time.Time  `json:"first_triggered_at"`
	LastTriggeredAt  time.Time  `json:"last_triggered_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}

type AlertEventKind string

const (
	AlertTriggered  AlertEventKind = "TRIGGERED"
	AlertResolved   AlertEventKind = "RESOLVED"
	AlertSuppressed AlertEventKind = "SUPPRESSED"
)

// AlertEvent: результат одного решения реестра тревог.
type AlertEvent struct {
	Kind   AlertEventKind `json:"kind"`
	Alert  Alert          `json:"alert"`
	Reason string         `json:"reason,omitempty"` // SUPPRESSED: "cooldown"; RESOLVED без проверки: причина снятия
	At     time.Time      `json:"at"`
}
