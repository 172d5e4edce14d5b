package validate

// Throttle gates a repeating warning so it cannot flood the log: the first
// 10 occurrences pass, then every 100th. A camera producing one bad frame
// per frame period would otherwise write thirty log lines a second.
type Throttle struct {
	count uint64
}

// Allow records one occurrence and reports whether it should be logged.
func (t *Throttle) Allow() bool {
	t.count++
	return t.count <= 10 || t.count%100 == 0
}

// Count reports how many occurrences have been recorded.
func (t *Throttle) Count() uint64 {
	return t.count
}
