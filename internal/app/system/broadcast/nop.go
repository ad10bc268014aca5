// internal/app/system/broadcast/nop.go
package broadcast

import "context"

// Nop discards every event. Used when realtime delivery is switched off.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) error { return nil }
func (Nop) Name() string { return "none" }
func (Nop) Close() error { return nil }
