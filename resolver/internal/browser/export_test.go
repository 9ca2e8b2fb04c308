package browser

import "time"

// SetMonitorEvery shortens the recycle monitor tick for tests.
func SetMonitorEvery(d time.Duration) (restore func()) {
	old := monitorEvery
	monitorEvery = d
	return func() { monitorEvery = old }
}
