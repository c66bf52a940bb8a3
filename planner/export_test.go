package planner

// SetBeforeFetch installs a hook that runs after Refresh has reserved its
// fetch and before the request is issued.
func (p *Planner) SetBeforeFetch(hook func()) {
	p.mu.Lock()
	p.beforeFetch = hook
	p.mu.Unlock()
}
