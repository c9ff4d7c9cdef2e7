package metrics

// Collect runs one sampling pass synchronously, so tests don't have to
// wait out the ticker.
func (c *Collector) Collect() { c.collect() }
