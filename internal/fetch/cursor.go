package fetch

// cursor drives offset/limit pagination. The offset advances by the number
// of records the server actually returned, not by the requested limit, so a
// server-side short page never skips records.
type cursor struct {
	offset        int
	limit         int
	totalSeen     int
	reportedTotal int // -1 until the server reports one
}

func newCursor(limit int) *cursor {
	return &cursor{limit: limit, reportedTotal: -1}
}

// advance records a completed page of n records and the server-reported
// running total (-1 when absent). It returns true when another page should
// be requested.
//
// Pagination stops when a page is empty, shorter than the requested limit,
// or the running total has been reached.
func (c *cursor) advance(n, reportedTotal int) bool {
	c.totalSeen += n
	if reportedTotal >= 0 {
		c.reportedTotal = reportedTotal
	}
	if n == 0 || n < c.limit {
		return false
	}
	if c.reportedTotal >= 0 && c.totalSeen >= c.reportedTotal {
		return false
	}
	c.offset += n
	return true
}
