package policy

// ttlPolicy picks the entry with the soonest deadline as its victim,
// reusing ExpiryIndex's min-heap. If nothing carries a TTL, Victim reports
// NoVictim (ok=false), matching spec §4.2.
type ttlPolicy struct {
	expiry *ExpiryIndex
}

func newTTLPolicy() *ttlPolicy {
	return &ttlPolicy{expiry: NewExpiryIndex()}
}

func (p *ttlPolicy) OnInsert(key string, m Meta) { p.expiry.Set(key, m.DeadlineMillis) }
func (p *ttlPolicy) OnAccess(string, Meta)        {}
func (p *ttlPolicy) OnRemove(key string)          { p.expiry.Remove(key) }
func (p *ttlPolicy) Victim() (string, bool)       { return p.expiry.Soonest() }
