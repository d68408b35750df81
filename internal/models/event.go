package models

import (
	"time"
)

// EventType represents console event types
type EventType string

const (
	// Tenant registry events
	EventTypeTenantCreated EventType = "TENANT_CREATED"
	EventTypeTenantUpdated EventType = "TENANT_UPDATED"
	EventTypeTenantDeleted EventType = "TENANT_DELETED"

	// Deploy events
	EventTypeDeployDispatched EventType = "DEPLOY_DISPATCHED"
	EventTypeDeployFailed     EventType = "DEPLOY_FAILED"
)

// TenantEvent is published after a registry write has been acknowledged by the store
type TenantEvent struct {
	Type      EventType `json:"type"`
	TenantID  string    `json:"tenantId"`
	Name      string    `json:"name,omitempty"`
	ProjectID string    `json:"projectId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	At        time.Time `json:"at"`
}

// DeployEvent is published after an operator triggered a deploy
type DeployEvent struct {
	Type         EventType `json:"type"`
	Tenants      []string  `json:"tenants"`
	RemoteStatus int       `json:"remoteStatus,omitempty"`
	Error        string    `json:"error,omitempty"`
	SessionID    string    `json:"sessionId,omitempty"`
	At           time.Time `json:"at"`
}
