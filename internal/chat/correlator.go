package chat

// Correlator holds the id of the one request whose frames are currently
// accepted. It is owned by the orchestrator's loop and is not safe for
// concurrent use.
type Correlator struct {
	active string
}

// Set marks id as the active request, replacing any previous one
func (c *Correlator) Set(id string) {
	c.active = id
}

// Active returns the active request id
func (c *Correlator) Active() (string, bool) {
	return c.active, c.active != ""
}

// Matches reports whether a frame tagged with id belongs to the active request
func (c *Correlator) Matches(id string) bool {
	return c.active != "" && id == c.active
}

// Clear empties the slot and reports whether a request was active
func (c *Correlator) Clear() bool {
	had := c.active != ""
	c.active = ""
	return had
}
