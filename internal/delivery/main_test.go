package delivery

import (
	"os"
	"testing"
	"time"
)

// Timer-driven behavior is exercised explicitly in tests; the background
// timers are parked far out so they cannot interleave with assertions.
func TestMain(m *testing.M) {
	identityGrace = time.Hour
	supervisorInterval = time.Hour
	os.Exit(m.Run())
}
