// Command meshstaticd runs one MeshStatic node. Without a real radio link
// driver in this tree, it wires the engine to a loopback link so the
// demo can originate and receive its own traffic; production deployments
// substitute a real Link implementation at the same seam.
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meshstatic/meshstatic-go/internal/config"
	"github.com/meshstatic/meshstatic-go/internal/persist"
	"github.com/meshstatic/meshstatic-go/pkg/engine"
	"github.com/meshstatic/meshstatic-go/pkg/meshaddr"
	"github.com/meshstatic/meshstatic-go/pkg/mlog"
	"github.com/meshstatic/meshstatic-go/pkg/wire"
)

// The debug level flag is registered by pkg/mlog itself; meshstaticd only
// adds the flags specific to running a node.
var (
	configPath = flag.String("config", "", "path to node config (defaults to ~/.meshstatic/meshstatic.toml)")
	tickMS     = flag.Int("tick-ms", 1000, "timer loop period in milliseconds")
)

// loopbackLink hands every sent frame straight back to the node it was
// sent to, for single-process demonstration only.
type loopbackLink struct {
	node *node
}

func (l *loopbackLink) Send(nextHop meshaddr.Address, frame []byte) engine.LinkResult {
	mlog.Log(mlog.Packets, "loopback send", "next_hop", nextHop.String(), "bytes", len(frame))
	l.node.rx <- frame
	return engine.LinkOK
}

type systemClock struct{ startedAt time.Time }

func newSystemClock() *systemClock { return &systemClock{startedAt: time.Now()} }

func (c *systemClock) NowMS() uint32 {
	return uint32(time.Since(c.startedAt).Milliseconds())
}

type cryptoRandom struct{}

func (cryptoRandom) Fill(b []byte) error {
	_, err := rand.Read(b)
	return err
}

type node struct {
	eng *engine.Engine
	rx  chan []byte
}

func main() {
	flag.Parse()
	mlog.Init()

	if err := config.EnsureConfigDir(); err != nil {
		log.Fatalf("meshstaticd: cannot ensure config directory: %v", err)
	}

	path := *configPath
	if path == "" {
		var err error
		path, err = config.GetConfigPath()
		if err != nil {
			log.Fatalf("meshstaticd: cannot resolve config path: %v", err)
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Fatalf("meshstaticd: no config at %s; create one with self_address and master_key_hex set", path)
		}
		log.Fatalf("meshstaticd: cannot load config: %v", err)
	}

	engineCfg, err := cfg.Engine()
	if err != nil {
		log.Fatalf("meshstaticd: invalid config: %v", err)
	}

	masterKey, err := cfg.MasterKey()
	if err != nil {
		log.Fatalf("meshstaticd: invalid master_key_hex: %v", err)
	}

	n := &node{rx: make(chan []byte, 64)}
	link := &loopbackLink{node: n}
	clock := newSystemClock()
	keystore := &simpleKeyStore{master: masterKey, sessionID: cfg.SessionID}
	sinks := &loggingSinks{}

	eng, err := engine.New(engineCfg, link, clock, cryptoRandom{}, keystore, sinks)
	if err != nil {
		log.Fatalf("meshstaticd: cannot start engine: %v", err)
	}
	n.eng = eng

	snapshotPath := cfg.RoutingSnapshotPath
	if snapshotPath != "" {
		entries, err := persist.Load(snapshotPath)
		if err != nil {
			mlog.Log(mlog.Error, "routing snapshot restore failed", "error", err.Error())
		} else {
			eng.RestoreRoutes(entries, clock.NowMS())
		}
	}

	eng.SetDeliveryFailedCallback(func(packetID uint32) {
		mlog.Log(mlog.Error, "delivery failed", "packet_id", packetID)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(*tickMS) * time.Millisecond)
	defer ticker.Stop()

	mlog.Log(mlog.Info, "meshstaticd started", "self", engineCfg.Self.String())

	for {
		select {
		case sig := <-sigCh:
			mlog.Log(mlog.Info, "shutting down", "signal", sig.String())
			if snapshotPath != "" {
				if err := persist.Save(snapshotPath, eng.SnapshotRoutes()); err != nil {
					mlog.Log(mlog.Error, "routing snapshot save failed", "error", err.Error())
				}
			}
			return

		case frame := <-n.rx:
			outcome := eng.Ingest(frame, engineCfg.Self, 0, clock.NowMS())
			if outcome.Dropped {
				mlog.Log(mlog.Packets, "ingest drop", "reason", outcome.Reason.String())
			}

		case <-ticker.C:
			eng.Tick(clock.NowMS())
		}
	}
}

type simpleKeyStore struct {
	master    [32]byte
	sessionID uint32
}

func (k *simpleKeyStore) MasterKey() [32]byte                { return k.master }
func (k *simpleKeyStore) CurrentSession() (uint32, [32]byte) { return k.sessionID, k.master }

type loggingSinks struct{}

func (loggingSinks) OnSensor(src meshaddr.Address, data wire.SensorData) {
	mlog.Log(mlog.Info, "sensor reading", "src", src.String(), "device_type", data.DeviceType,
		"temperature_c", fmt.Sprintf("%.1f", data.Temperature), "battery_mv", data.BatteryMV)
}

func (loggingSinks) OnCommand(src meshaddr.Address, msgType uint8, payload []byte) {
	mlog.Log(mlog.Info, "command delivered", "src", src.String(), "msg_type", msgType, "bytes", len(payload))
}

func (loggingSinks) OnEvent(src meshaddr.Address, event wire.EmergencyEvent) {
	mlog.Log(mlog.Critical, "emergency event", "src", src.String(), "event_type", event.EventType, "severity", event.Severity)
}

func (loggingSinks) OnAdvisory(src meshaddr.Address, kind engine.AdvisoryKind, data wire.SensorData) {
	mlog.Log(mlog.Error, "sensor advisory", "src", src.String(), "kind", kind.String(),
		"temperature_c", fmt.Sprintf("%.1f", data.Temperature), "battery_mv", data.BatteryMV)
}
