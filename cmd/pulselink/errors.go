package main

import (
	"errors"
	"fmt"

	"github.com/pulselink/pulselink/internal/ingest"
	"github.com/pulselink/pulselink/internal/link"
	"github.com/pulselink/pulselink/internal/store"
)

// formatUserError maps known failure modes to actionable messages; anything
// unrecognized is printed as-is.
func formatUserError(err error) string {
	switch {
	case errors.Is(err, link.ErrDeviceNotFound):
		return fmt.Sprintf("%v\nMake sure the oximeter is powered on and advertising (try 'pulselink scan')", err)
	case errors.Is(err, link.ErrNoNotifyCharacteristic):
		return fmt.Sprintf("%v\nThe device exposes no notify characteristic; is it the right peripheral?", err)
	case errors.Is(err, ingest.ErrConnectionLost):
		return fmt.Sprintf("%v\nThe peripheral dropped the connection; restart 'pulselink collect' to begin a new session", err)
	case errors.Is(err, store.ErrSessionNotFound):
		return fmt.Sprintf("%v\nThe session key did not resolve; is the collector pointed at the right API and database?", err)
	default:
		return err.Error()
	}
}
