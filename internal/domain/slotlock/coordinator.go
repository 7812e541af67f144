// Package slotlock coordinates advisory time-slot locks over the realtime
// channel while a patient is picking a slot. Locks are best-effort: the
// backend is the authority at submission time and expires abandoned locks.
package slotlock

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/booking/internal/domain/scheduling"
	"github.com/clinic/booking/internal/platform/metrics"
)

// Outbound and inbound channel events.
const (
	EventLock   = "lock_time_slot"
	EventUnlock = "unlock_time_slot"

	EventCurrentLocked = "current_locked_slots"
	EventLocked        = "time_slot_locked"
	EventUnlocked      = "time_slot_unlocked"
	EventLockConfirmed = "time_slot_lock_confirmed"
	EventLockRejected  = "time_slot_lock_rejected"
	EventSlotUpdated   = "time_slot_updated"
)

var (
	ErrSlotHeld    = errors.New("slot is held by another patient")
	ErrSlotFull    = errors.New("slot is full")
	ErrSlotPast    = errors.New("slot has already ended")
	ErrUnknownSlot = errors.New("slot is not offered for this date")
	ErrNotEntered  = errors.New("slot picker is not open")
)

// Channel is the persistent event channel the coordinator talks over.
type Channel interface {
	Connected() bool
	Join(doctorID, date string) error
	Leave(doctorID, date string) error
	Emit(event string, payload any) error
	On(event string, h func(json.RawMessage)) (off func())
}

// Room scopes lock traffic to one doctor and one date.
type Room struct {
	DoctorID string
	Date     time.Time
}

// LockPayload is sent with lock_time_slot and unlock_time_slot.
type LockPayload struct {
	ScheduleID string `json:"scheduleId"`
	TimeSlotID string `json:"timeSlotId,omitempty"`
	StartTime  string `json:"startTime"`
	DoctorID   string `json:"doctorId"`
	Date       string `json:"date"`
}

type NoticeKind string

const (
	NoticeLockRejected NoticeKind = "lock_rejected"
	NoticeSlotFull     NoticeKind = "slot_full"
	NoticeSlotRemoved  NoticeKind = "slot_removed"
)

// Notice is an informational message for the patient. Lock conflicts are
// notices, not errors.
type Notice struct {
	Kind    NoticeKind
	Slot    scheduling.Slot
	Message string
}

const (
	msgLockRejected = "Khung giờ này vừa được người khác giữ. Vui lòng chọn khung giờ khác."
	msgSlotFull     = "Khung giờ bạn chọn vừa hết chỗ. Bạn vẫn có thể thử đặt hoặc chọn khung giờ khác."
	msgSlotRemoved  = "Khung giờ bạn chọn không còn trong lịch khám. Vui lòng chọn khung giờ khác."
)

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(l zerolog.Logger) Option { return func(c *Coordinator) { c.logger = l } }

func WithMetrics(m *metrics.Collector) Option { return func(c *Coordinator) { c.metrics = m } }

// WithNoticeHook receives notices. It is called without internal locks held.
func WithNoticeHook(f func(Notice)) Option { return func(c *Coordinator) { c.onNotice = f } }

// WithChangeHook is called after any change to the lock map, the slot list or
// the selection.
func WithChangeHook(f func()) Option { return func(c *Coordinator) { c.onChange = f } }

// WithHeartbeat re-emits the lock for the held slot every d. Zero disables it.
func WithHeartbeat(d time.Duration) Option { return func(c *Coordinator) { c.heartbeat = d } }

// WithClock overrides time.Now and the zone used to decide whether a slot has
// ended.
func WithClock(now func() time.Time, loc *time.Location) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
		if loc != nil {
			c.loc = loc
		}
	}
}

// Coordinator owns the lock map and the slot selection of one slot picker.
type Coordinator struct {
	ch        Channel
	holderID  string
	logger    zerolog.Logger
	metrics   *metrics.Collector
	onNotice  func(Notice)
	onChange  func()
	heartbeat time.Duration
	now       func() time.Time
	loc       *time.Location

	mu       sync.Mutex
	room     *Room
	slots    []scheduling.Slot
	locks    map[scheduling.SlotKey]string
	selected *scheduling.Slot
	// held is true when a lock for selected was emitted and not yet
	// released or rejected.
	held bool
	offs []func()
	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Coordinator. holderID is the patient id the server reports
// as lock holder for this client.
func New(ch Channel, holderID string, opts ...Option) *Coordinator {
	c := &Coordinator{
		ch:       ch,
		holderID: holderID,
		logger:   zerolog.Nop(),
		now:      time.Now,
		loc:      time.UTC,
		locks:    make(map[scheduling.SlotKey]string),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type emission struct {
	event   string
	payload LockPayload
}

// Enter opens the picker for doctorID on date: it subscribes to lock
// events, joins the room and installs slots. A previously entered room is
// exited first.
func (c *Coordinator) Enter(doctorID string, date time.Time, slots []scheduling.Slot) error {
	if doctorID == "" {
		return errors.New("slot picker needs a doctor")
	}
	c.Exit()

	room := Room{DoctorID: doctorID, Date: scheduling.DayOf(date)}

	// Handlers ignore events until the room is set below.
	offs := []func(){
		c.ch.On(EventCurrentLocked, c.handleSnapshot),
		c.ch.On(EventLocked, c.handleLocked),
		c.ch.On(EventUnlocked, c.handleUnlocked),
		c.ch.On(EventLockConfirmed, c.handleConfirmed),
		c.ch.On(EventLockRejected, c.handleRejected),
		c.ch.On(EventSlotUpdated, c.handleUpdated),
	}

	c.mu.Lock()
	c.room = &room
	c.slots = append([]scheduling.Slot(nil), slots...)
	c.locks = make(map[scheduling.SlotKey]string)
	c.selected = nil
	c.held = false
	c.offs = offs
	if c.heartbeat > 0 {
		c.stop = make(chan struct{})
		c.wg.Add(1)
		go c.heartbeatLoop(c.heartbeat, c.stop)
	}
	c.mu.Unlock()

	if err := c.ch.Join(doctorID, scheduling.FormatDate(room.Date)); err != nil {
		// Degrade to capacity-only selection.
		c.logger.Warn().Err(err).Str("doctor_id", doctorID).Msg("join slot room failed")
	}
	c.changed()
	return nil
}

// Exit releases the held slot (best effort), leaves the room and detaches
// every handler. It is safe to call when not entered.
func (c *Coordinator) Exit() {
	c.mu.Lock()
	if c.room == nil {
		c.mu.Unlock()
		return
	}
	room := *c.room
	var out []emission
	if c.selected != nil && c.held {
		out = append(out, emission{EventUnlock, c.payloadLocked(*c.selected)})
	}
	offs := c.offs
	stop := c.stop
	c.offs, c.stop = nil, nil
	c.room = nil
	c.selected = nil
	c.held = false
	c.slots = nil
	c.locks = make(map[scheduling.SlotKey]string)
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		c.wg.Wait()
	}
	c.send(out)
	for _, off := range offs {
		if off != nil {
			off()
		}
	}
	if err := c.ch.Leave(room.DoctorID, scheduling.FormatDate(room.Date)); err != nil {
		c.logger.Debug().Err(err).Str("doctor_id", room.DoctorID).Msg("leave slot room failed")
	}
}

// SetSlots replaces the slot list after a schedule refetch. The selection is
// refreshed from the new list when it is still offered; otherwise it is
// released and the patient is told.
func (c *Coordinator) SetSlots(slots []scheduling.Slot) {
	var (
		out    []emission
		notice *Notice
	)
	c.mu.Lock()
	c.slots = append([]scheduling.Slot(nil), slots...)
	if c.selected != nil {
		if s, ok := scheduling.FindSlot(c.slots, c.selected.Key()); ok {
			c.selected = &s
		} else {
			prev := *c.selected
			if c.held {
				out = append(out, emission{EventUnlock, c.payloadLocked(prev)})
			}
			if c.locks[prev.Key()] == c.holderID {
				delete(c.locks, prev.Key())
			}
			c.selected = nil
			c.held = false
			notice = &Notice{Kind: NoticeSlotRemoved, Slot: prev, Message: msgSlotRemoved}
		}
	}
	c.mu.Unlock()

	c.send(out)
	if notice != nil {
		c.notify(*notice)
	}
	c.changed()
}

// Select changes the selection to slot, or clears it when slot is nil. When
// the previous selection was locked by this client its unlock is emitted
// before the lock of the new one. While the channel is disconnected both
// emissions are dropped and only capacity is checked.
func (c *Coordinator) Select(slot *scheduling.Slot) error {
	c.mu.Lock()
	if c.room == nil {
		c.mu.Unlock()
		return ErrNotEntered
	}

	var next *scheduling.Slot
	if slot != nil {
		cur, ok := scheduling.FindSlot(c.slots, slot.Key())
		if !ok {
			c.mu.Unlock()
			return ErrUnknownSlot
		}
		if c.selected != nil && c.selected.Key() == cur.Key() {
			c.mu.Unlock()
			return nil
		}
		if cur.IsBooked {
			c.mu.Unlock()
			return ErrSlotFull
		}
		if cur.EndedBefore(c.room.Date, c.now(), c.loc) {
			c.mu.Unlock()
			return ErrSlotPast
		}
		if c.ch.Connected() {
			if h, ok := c.locks[cur.Key()]; ok && h != c.holderID {
				c.mu.Unlock()
				return ErrSlotHeld
			}
		}
		next = &cur
	} else if c.selected == nil {
		c.mu.Unlock()
		return nil
	}

	var out []emission
	if c.selected != nil && c.held {
		prev := *c.selected
		out = append(out, emission{EventUnlock, c.payloadLocked(prev)})
		if c.locks[prev.Key()] == c.holderID {
			delete(c.locks, prev.Key())
		}
	}
	c.selected = next
	c.held = false
	if next != nil && c.ch.Connected() {
		out = append(out, emission{EventLock, c.payloadLocked(*next)})
		c.held = true
	}
	c.mu.Unlock()

	c.send(out)
	c.changed()
	return nil
}

// Release clears the selection, unlocking it if held.
func (c *Coordinator) Release() {
	if err := c.Select(nil); err != nil && !errors.Is(err, ErrNotEntered) {
		c.logger.Debug().Err(err).Msg("release slot")
	}
}

// Selected returns a copy of the selected slot, or nil.
func (c *Coordinator) Selected() *scheduling.Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == nil {
		return nil
	}
	s := *c.selected
	return &s
}

// Holder returns who holds key, if anyone is known to.
func (c *Coordinator) Holder(key scheduling.SlotKey) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.locks[key]
	return h, ok
}

// Locks returns a snapshot of the lock map.
func (c *Coordinator) Locks() map[scheduling.SlotKey]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[scheduling.SlotKey]string, len(c.locks))
	for k, v := range c.locks {
		out[k] = v
	}
	return out
}

// Slots returns a copy of the current slot list.
func (c *Coordinator) Slots() []scheduling.Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]scheduling.Slot(nil), c.slots...)
}

// Room returns the entered room.
func (c *Coordinator) Room() (Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == nil {
		return Room{}, false
	}
	return *c.room, true
}

// ---------------------------------------------------------------------------
// Inbound events
// ---------------------------------------------------------------------------

type lockEvent struct {
	ScheduleID string `json:"scheduleId"`
	TimeSlotID string `json:"timeSlotId"`
	StartTime  string `json:"startTime"`
	DoctorID   string `json:"doctorId"`
	Date       string `json:"date"`
	UserID     string `json:"userId"`
	LockedBy   string `json:"lockedBy"`
	Message    string `json:"message"`
}

// keyLocked resolves the lock identity of an inbound event. The server
// addresses slots by (scheduleId, timeSlotId); startTime is only a fallback
// for slots the list carries no id for.
func (c *Coordinator) keyLocked(scheduleID, timeSlotID, start string) (scheduling.SlotKey, bool) {
	if timeSlotID != "" {
		for _, s := range c.slots {
			if s.ScheduleID == scheduleID && s.TimeSlotID == timeSlotID {
				return s.Key(), true
			}
		}
	}
	if strings.TrimSpace(start) == "" {
		return scheduling.SlotKey{}, false
	}
	return scheduling.SlotKey{ScheduleID: scheduleID, Start: scheduling.NormalizeTime(start)}, true
}

func (c *Coordinator) eventKeyLocked(e lockEvent) (scheduling.SlotKey, bool) {
	return c.keyLocked(e.ScheduleID, e.TimeSlotID, e.StartTime)
}

func (e lockEvent) holder() string {
	if e.UserID != "" {
		return e.UserID
	}
	return e.LockedBy
}

type slotUpdate struct {
	ScheduleID  string `json:"scheduleId"`
	TimeSlotID  string `json:"timeSlotId"`
	StartTime   string `json:"startTime"`
	Date        string `json:"date"`
	BookedCount *int   `json:"bookedCount"`
	MaxBookings *int   `json:"maxBookings"`
	IsBooked    *bool  `json:"isBooked"`
}

func (c *Coordinator) decode(event string, raw json.RawMessage, v any) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		c.logger.Warn().Err(err).Str("event", event).Msg("malformed lock event")
		return false
	}
	c.metrics.ObserveLockEvent(event)
	return true
}

// sameRoomLocked reports whether an event dated date belongs to the entered
// room. Events without a usable date are accepted.
func (c *Coordinator) sameRoomLocked(date string) bool {
	if c.room == nil {
		return false
	}
	if date == "" {
		return true
	}
	d, err := scheduling.ParseScheduleDate(date)
	if err != nil {
		return true
	}
	return d.Equal(c.room.Date)
}

func (c *Coordinator) handleSnapshot(raw json.RawMessage) {
	var list []lockEvent
	if err := json.Unmarshal(raw, &list); err != nil {
		var wrapped struct {
			LockedSlots []lockEvent `json:"lockedSlots"`
		}
		if !c.decode(EventCurrentLocked, raw, &wrapped) {
			return
		}
		list = wrapped.LockedSlots
	} else {
		c.metrics.ObserveLockEvent(EventCurrentLocked)
	}

	c.mu.Lock()
	if c.room == nil {
		c.mu.Unlock()
		return
	}
	locks := make(map[scheduling.SlotKey]string, len(list))
	for _, e := range list {
		h := e.holder()
		if h == "" || !c.sameRoomLocked(e.Date) {
			continue
		}
		if key, ok := c.eventKeyLocked(e); ok {
			locks[key] = h
		}
	}
	c.locks = locks
	c.mu.Unlock()
	c.changed()
}

func (c *Coordinator) handleLocked(raw json.RawMessage) {
	var e lockEvent
	if !c.decode(EventLocked, raw, &e) {
		return
	}
	c.mu.Lock()
	if c.room == nil || !c.sameRoomLocked(e.Date) || e.holder() == "" {
		c.mu.Unlock()
		return
	}
	key, ok := c.eventKeyLocked(e)
	if !ok {
		c.mu.Unlock()
		c.logger.Debug().Str("schedule_id", e.ScheduleID).Str("time_slot_id", e.TimeSlotID).Msg("lock event for unknown slot")
		return
	}
	c.locks[key] = e.holder()
	c.mu.Unlock()
	c.changed()
}

func (c *Coordinator) handleUnlocked(raw json.RawMessage) {
	var e lockEvent
	if !c.decode(EventUnlocked, raw, &e) {
		return
	}
	c.mu.Lock()
	if c.room == nil || !c.sameRoomLocked(e.Date) {
		c.mu.Unlock()
		return
	}
	if key, ok := c.eventKeyLocked(e); ok {
		if h, held := c.locks[key]; held && (e.holder() == "" || e.holder() == h) {
			delete(c.locks, key)
		}
	}
	c.mu.Unlock()
	c.changed()
}

func (c *Coordinator) handleConfirmed(raw json.RawMessage) {
	var e lockEvent
	if !c.decode(EventLockConfirmed, raw, &e) {
		return
	}
	c.mu.Lock()
	if c.room == nil {
		c.mu.Unlock()
		return
	}
	if key, ok := c.eventKeyLocked(e); ok && c.selected != nil && c.selected.Key() == key {
		c.locks[key] = c.holderID
	}
	c.mu.Unlock()
	c.changed()
}

func (c *Coordinator) handleRejected(raw json.RawMessage) {
	var e lockEvent
	if !c.decode(EventLockRejected, raw, &e) {
		return
	}

	var notice *Notice
	c.mu.Lock()
	if c.room == nil {
		c.mu.Unlock()
		return
	}
	key, ok := c.eventKeyLocked(e)
	if !ok {
		c.mu.Unlock()
		return
	}
	if h := e.holder(); h != "" && h != c.holderID {
		c.locks[key] = h
	} else if c.locks[key] == c.holderID {
		delete(c.locks, key)
	}
	if c.selected != nil && c.selected.Key() == key {
		notice = &Notice{Kind: NoticeLockRejected, Slot: *c.selected, Message: msgLockRejected}
		c.selected = nil
		c.held = false
	}
	c.mu.Unlock()

	if notice != nil {
		c.logger.Info().Str("slot", key.String()).Str("reason", e.Message).Msg("slot lock rejected")
		c.notify(*notice)
	}
	c.changed()
}

func (c *Coordinator) handleUpdated(raw json.RawMessage) {
	var u slotUpdate
	if !c.decode(EventSlotUpdated, raw, &u) {
		return
	}
	var notice *Notice
	c.mu.Lock()
	if c.room == nil || !c.sameRoomLocked(u.Date) {
		c.mu.Unlock()
		return
	}
	key, ok := c.keyLocked(u.ScheduleID, u.TimeSlotID, u.StartTime)
	if !ok {
		c.mu.Unlock()
		return
	}
	for i := range c.slots {
		if c.slots[i].Key() != key {
			continue
		}
		s := &c.slots[i]
		if u.BookedCount != nil && *u.BookedCount >= 0 {
			s.BookedCount = *u.BookedCount
		}
		if u.MaxBookings != nil && *u.MaxBookings > 0 {
			s.MaxBookings = *u.MaxBookings
		}
		if u.IsBooked != nil {
			s.IsBooked = *u.IsBooked
		} else {
			s.IsBooked = s.BookedCount >= s.MaxBookings
		}
		if c.selected != nil && c.selected.Key() == key {
			wasFull := c.selected.IsBooked
			*c.selected = *s
			if s.IsBooked && !wasFull {
				notice = &Notice{Kind: NoticeSlotFull, Slot: *s, Message: msgSlotFull}
			}
		}
		break
	}
	c.mu.Unlock()

	if notice != nil {
		c.notify(*notice)
	}
	c.changed()
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

func (c *Coordinator) payloadLocked(s scheduling.Slot) LockPayload {
	p := LockPayload{ScheduleID: s.ScheduleID, TimeSlotID: s.TimeSlotID, StartTime: s.Start}
	if c.room != nil {
		p.DoctorID = c.room.DoctorID
		p.Date = scheduling.FormatDate(c.room.Date)
	}
	return p
}

// send emits in order. Nothing is queued while disconnected.
func (c *Coordinator) send(out []emission) {
	for _, e := range out {
		if !c.ch.Connected() {
			c.logger.Debug().Str("event", e.event).Msg("channel disconnected, dropping lock emission")
			c.metrics.ObserveLockEvent(e.event + "_dropped")
			continue
		}
		if err := c.ch.Emit(e.event, e.payload); err != nil {
			c.logger.Warn().Err(err).Str("event", e.event).Msg("emit lock event failed")
			continue
		}
		c.metrics.ObserveLockEvent(e.event)
	}
}

func (c *Coordinator) heartbeatLoop(every time.Duration, stop <-chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			var out []emission
			if c.selected != nil && c.held {
				out = append(out, emission{EventLock, c.payloadLocked(*c.selected)})
			}
			c.mu.Unlock()
			c.send(out)
		}
	}
}

func (c *Coordinator) notify(n Notice) {
	if c.onNotice != nil {
		c.onNotice(n)
	}
}

func (c *Coordinator) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}
