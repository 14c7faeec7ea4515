package bletest

import "sync"

// Power records power-control calls instead of touching the OS.
type Power struct {
	mu          sync.Mutex
	events      []string
	disconnects []string
	err         error
}

func NewPower() *Power { return &Power{} }

// Fail makes every subsequent call return err (nil to clear).
func (p *Power) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *Power) SetPower(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if on {
		p.events = append(p.events, "on")
	} else {
		p.events = append(p.events, "off")
	}
	return p.err
}

func (p *Power) DisconnectAddress(addr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnects = append(p.disconnects, addr)
	return p.err
}

// Events returns the power toggles in order ("on"/"off").
func (p *Power) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// Cycles counts completed off-then-on sequences.
func (p *Power) Cycles() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for i := 1; i < len(p.events); i++ {
		if p.events[i-1] == "off" && p.events[i] == "on" {
			n++
		}
	}
	return n
}

// Disconnects returns the addresses nudged off stale links.
func (p *Power) Disconnects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.disconnects...)
}
