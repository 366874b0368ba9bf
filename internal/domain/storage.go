// internal/domain/storage.go
package domain

import "context"

// ObjectStore persists logs and artifacts.
type ObjectStore interface {
	// Put uploads localFile to bucket/key and returns its locator.
	Put(ctx context.Context, localFile, bucket, key string) (string, error)
}

// Notification is a message for a person or a channel.
type Notification struct {
	Channel  string    `json:"channel,omitempty"`
	Owner    Owner     `json:"owner"`
	TestName string    `json:"test_name,omitempty"`
	Status   RunStatus `json:"status,omitempty"`
	Message  string    `json:"message"`
}

// Notifier delivers notifications. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
