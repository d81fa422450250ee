// Package clock defines the time source abstraction shared across subsystems.
package clock

import "time"

// Clock supplies the current time. Injecting it lets tests control TTL math.
type Clock interface {
	Now() time.Time
}
