package session

import (
	"sync"
	"time"
)

// Pacer spaces batches so an identity stays under the service cooldown.
// The delay after a batch is base*(last/target), floored at min, and is
// counted from the midpoint between the last send and its acknowledge.
type Pacer struct {
	mu        sync.Mutex
	target    int
	base      time.Duration
	min       time.Duration
	speed     float64
	minSpeed  float64
	maxSpeed  float64
	lastBatch int
	lastSend  time.Time
	lastAck   time.Time
	stall     time.Duration
}

// BaseDelay converts a speed in pixels per second into the delay for one
// full batch.
func BaseDelay(batch int, speed float64) time.Duration {
	if speed <= 0 || batch <= 0 {
		return 0
	}
	return time.Duration(float64(batch) / speed * float64(time.Second))
}

// NewPacer builds a pacer for batches of target pixels. minSpeed and
// maxSpeed bound every speed passed to SetSpeed.
func NewPacer(target int, speed, minSpeed, maxSpeed float64, minDelay time.Duration) *Pacer {
	if target <= 0 {
		target = 1
	}
	p := &Pacer{target: target, min: minDelay, minSpeed: minSpeed, maxSpeed: maxSpeed}
	p.SetSpeed(speed)
	return p
}

// SetSpeed clamps speed into the configured range and returns the value in use.
func (p *Pacer) SetSpeed(speed float64) float64 {
	if p.minSpeed > 0 && speed < p.minSpeed {
		speed = p.minSpeed
	}
	if p.maxSpeed > 0 && speed > p.maxSpeed {
		speed = p.maxSpeed
	}
	p.mu.Lock()
	p.speed = speed
	p.base = BaseDelay(p.target, speed)
	p.mu.Unlock()
	return speed
}

// Speed returns the clamped speed in pixels per second.
func (p *Pacer) Speed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed
}

// Delay returns the spacing owed for the last batch.
func (p *Pacer) Delay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delayLocked()
}

func (p *Pacer) delayLocked() time.Duration {
	d := time.Duration(float64(p.base) * float64(p.lastBatch) / float64(p.target))
	if d < p.min {
		d = p.min
	}
	return d
}

// Until returns how long to wait from now before the next send.
func (p *Pacer) Until(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastSend.IsZero() {
		return 0
	}
	anchor := p.lastSend
	if p.lastAck.After(p.lastSend) {
		anchor = p.lastSend.Add(p.lastAck.Sub(p.lastSend) / 2)
	}
	if w := anchor.Add(p.delayLocked()).Sub(now); w > 0 {
		return w
	}
	return 0
}

// Stall schedules a one-shot pause before the next send. Pending stalls
// do not add up; the longest wins.
func (p *Pacer) Stall(d time.Duration) {
	p.mu.Lock()
	if d > p.stall {
		p.stall = d
	}
	p.mu.Unlock()
}

// TakeStall returns and clears the pending stall.
func (p *Pacer) TakeStall() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.stall
	p.stall = 0
	return d
}

// Sent records a batch of n pixels leaving at t.
func (p *Pacer) Sent(n int, t time.Time) {
	p.mu.Lock()
	p.lastBatch = n
	p.lastSend = t
	p.mu.Unlock()
}

// Acked records the acknowledge of the last batch.
func (p *Pacer) Acked(t time.Time) {
	p.mu.Lock()
	p.lastAck = t
	p.mu.Unlock()
}
