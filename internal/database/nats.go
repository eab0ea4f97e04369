package database

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// ConnectNATS dials the notification broker. Callers may treat a failure as
// non-fatal and fall back to log-only notifications.
func ConnectNATS(url string) (*nats.Conn, error) {
	if url == "" {
		return nil, fmt.Errorf("nats url must not be empty")
	}

	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to nats: %w", err)
	}

	return conn, nil
}
