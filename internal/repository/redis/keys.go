package redis

import "fmt"

const ns = "eventbook:v1"

func KeyEvent(eventID int64) string {
	return fmt.Sprintf("%s:event:%d", ns, eventID)
}

func KeyEventAvailability(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:availability", ns, eventID)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func KeyIdemBooking(userID int64, idemKey string) string {
	return fmt.Sprintf("%s:idem:bookings:%d:%s", ns, userID, idemKey)
}

func KeyReconcileLock() string {
	return ns + ":lock:reconcile"
}

func ChannelEventsChanged() string {
	return ns + ":events:changed"
}
