package timing

// TimerFunc is called when a timer fires. It receives the payload that was
// given when the timer was armed and the time at which it actually fires.
type TimerFunc func(payload any, firedAt VTime)

// A Timer calls its callback at an absolute simulated time, once or
// periodically. Timers are created by components during their start phase
// and belong to the scheduler; the owner is only recorded by name.
//
// Canceling or re-arming a timer does not touch the queue. The stale queue
// entry is recognized by its generation and dropped when it surfaces.
type Timer struct {
	sched    *Scheduler
	owner    string
	name     string
	callback TimerFunc
	payload  any

	start     VTime
	expire    VTime
	period    VTime
	enabled   bool
	temporary bool
	gen       uint64
}

// Owner returns the name of the component that created the timer.
func (t *Timer) Owner() string {
	return t.owner
}

// Name returns the name of the timer within its owner.
func (t *Timer) Name() string {
	return t.name
}

// Enabled tells if the timer is armed.
func (t *Timer) Enabled() bool {
	return t.enabled
}

// Expire returns the time at which the timer fires next, or Never when it is
// not armed.
func (t *Timer) Expire() VTime {
	if !t.enabled {
		return Never
	}

	return t.expire
}

// Period returns the repeat period. A zero period means the timer fires once.
func (t *Timer) Period() VTime {
	return t.period
}

// Payload returns the payload given to the callback.
func (t *Timer) Payload() any {
	return t.payload
}

// SetPayload changes the payload without re-arming the timer.
func (t *Timer) SetPayload(payload any) {
	t.payload = payload
}

// Remaining returns the time until the timer fires.
func (t *Timer) Remaining() VTime {
	if !t.enabled {
		return Never
	}

	return t.expire.Sub(t.sched.Now())
}

// Elapsed returns the time since the timer was last armed or fired.
func (t *Timer) Elapsed() VTime {
	return t.sched.Now().Sub(t.start)
}

// Adjust arms the timer to fire after delay and then, if period is not zero,
// every period. A negative delay means the timer is already due and fires at
// the next boundary.
func (t *Timer) Adjust(delay VTime, payload any, period VTime) {
	if period.IsNegative() {
		period = Zero
	}

	t.payload = payload
	t.period = period
	t.sched.arm(t, t.sched.Now().Add(Max(delay, Zero)))
}

// AdjustAt arms the timer to fire once at an absolute time.
func (t *Timer) AdjustAt(at VTime, payload any) {
	t.payload = payload
	t.period = Zero
	t.sched.arm(t, Max(at, t.sched.Now()))
}

// Cancel disarms the timer.
func (t *Timer) Cancel() {
	t.enabled = false
	t.gen++
}

// Enable re-arms a disarmed timer at its previous expiration, or disarms it.
// It returns the previous state.
func (t *Timer) Enable(enable bool) bool {
	old := t.enabled

	switch {
	case enable && !old && !t.expire.IsNever():
		t.sched.arm(t, Max(t.expire, t.sched.Now()))
	case !enable && old:
		t.Cancel()
	}

	return old
}

// IsTemporary tells if the timer was created by TimerSet.
func (t *Timer) IsTemporary() bool {
	return t.temporary
}
