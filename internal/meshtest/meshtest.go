// Package meshtest provides in-memory fake collaborators for exercising
// the packet engine without a real link, clock, or key store, in the
// spirit of the packet interceptor test utility: a harness, not a mock
// framework.
package meshtest

import (
	"errors"
	"sync"

	"github.com/meshstatic/meshstatic-go/pkg/engine"
	"github.com/meshstatic/meshstatic-go/pkg/meshaddr"
	"github.com/meshstatic/meshstatic-go/pkg/wire"
)

// Link records every frame sent through it and can be told to simulate
// back-pressure or a hard failure on the next N sends.
type Link struct {
	mutex sync.Mutex

	Sent []SentFrame

	busyFor int
	failFor int
}

type SentFrame struct {
	NextHop meshaddr.Address
	Frame   []byte
}

func NewLink() *Link {
	return &Link{}
}

func (l *Link) Send(nextHop meshaddr.Address, frame []byte) engine.LinkResult {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.busyFor > 0 {
		l.busyFor--
		return engine.LinkBusy
	}
	if l.failFor > 0 {
		l.failFor--
		return engine.LinkError
	}

	cp := append([]byte(nil), frame...)
	l.Sent = append(l.Sent, SentFrame{NextHop: nextHop, Frame: cp})
	return engine.LinkOK
}

// SimulateBusy makes the next n sends report LinkBusy.
func (l *Link) SimulateBusy(n int) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.busyFor = n
}

// SimulateFailure makes the next n sends report LinkError.
func (l *Link) SimulateFailure(n int) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.failFor = n
}

func (l *Link) Frames() []SentFrame {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]SentFrame(nil), l.Sent...)
}

// Clock is a manually-advanced monotonic millisecond clock.
type Clock struct {
	mutex sync.Mutex
	nowMS uint32
}

func NewClock(startMS uint32) *Clock {
	return &Clock{nowMS: startMS}
}

func (c *Clock) NowMS() uint32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.nowMS
}

func (c *Clock) Advance(deltaMS uint32) uint32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.nowMS += deltaMS
	return c.nowMS
}

// Random is a deterministic byte source for reproducible tests: it never
// fails unless ForceError is set, which exercises the engine's
// fatal-at-init path.
type Random struct {
	Seed       byte
	ForceError bool
}

func NewRandom(seed byte) *Random {
	return &Random{Seed: seed}
}

func (r *Random) Fill(b []byte) error {
	if r.ForceError {
		return errors.New("meshtest: simulated randomness failure")
	}
	for i := range b {
		b[i] = r.Seed + byte(i)
	}
	return nil
}

// KeyStore is a fixed master key and session id, with no rotation of its
// own: the engine's own session.State does the rotating, this just seeds
// the initial values New consults.
type KeyStore struct {
	Master    [32]byte
	SessionID uint32
}

func NewKeyStore(master [32]byte, sessionID uint32) *KeyStore {
	return &KeyStore{Master: master, SessionID: sessionID}
}

func (k *KeyStore) MasterKey() [32]byte {
	return k.Master
}

func (k *KeyStore) CurrentSession() (uint32, [32]byte) {
	return k.SessionID, k.Master
}

// Sinks records every locally-delivered application payload for assertion
// in tests.
type Sinks struct {
	mutex sync.Mutex

	Sensors    []SensorDelivery
	Commands   []CommandDelivery
	Events     []EventDelivery
	Advisories []AdvisoryDelivery
}

type SensorDelivery struct {
	Src  meshaddr.Address
	Data wire.SensorData
}

type CommandDelivery struct {
	Src     meshaddr.Address
	MsgType uint8
	Payload []byte
}

type EventDelivery struct {
	Src   meshaddr.Address
	Event wire.EmergencyEvent
}

type AdvisoryDelivery struct {
	Src  meshaddr.Address
	Kind engine.AdvisoryKind
	Data wire.SensorData
}

func NewSinks() *Sinks {
	return &Sinks{}
}

func (s *Sinks) OnSensor(src meshaddr.Address, data wire.SensorData) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Sensors = append(s.Sensors, SensorDelivery{Src: src, Data: data})
}

func (s *Sinks) OnCommand(src meshaddr.Address, msgType uint8, payload []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	cp := append([]byte(nil), payload...)
	s.Commands = append(s.Commands, CommandDelivery{Src: src, MsgType: msgType, Payload: cp})
}

func (s *Sinks) OnEvent(src meshaddr.Address, event wire.EmergencyEvent) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Events = append(s.Events, EventDelivery{Src: src, Event: event})
}

func (s *Sinks) OnAdvisory(src meshaddr.Address, kind engine.AdvisoryKind, data wire.SensorData) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Advisories = append(s.Advisories, AdvisoryDelivery{Src: src, Kind: kind, Data: data})
}
