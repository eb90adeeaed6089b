// Package ingest drives the TCP connection lifecycle and pumps each
// CCSDS packet through the frame codec, integrity checker, reassembler,
// persistor and catalog (spec.md §4.G): disconnected → connecting →
// connected → reading → (error | timeout) → disconnected.
package ingest

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/kayserspace/waps-ies-sub000/internal/biolab"
	"github.com/kayserspace/waps-ies-sub000/internal/catalog"
	"github.com/kayserspace/waps-ies-sub000/internal/ccsds"
	"github.com/kayserspace/waps-ies-sub000/internal/image"
	"github.com/kayserspace/waps-ies-sub000/internal/integrity"
	"github.com/kayserspace/waps-ies-sub000/internal/logging"
	"github.com/kayserspace/waps-ies-sub000/internal/metrics"
	"github.com/kayserspace/waps-ies-sub000/internal/panel"
	"github.com/kayserspace/waps-ies-sub000/internal/persist"
	"github.com/kayserspace/waps-ies-sub000/internal/reassemble"
)

// Connect-failure logging: every failure up to logAllFailuresUpTo, then
// only every logEveryNthAfter-th failure.
const (
	logAllFailuresUpTo = 10
	logEveryNthAfter   = 60
)

const defaultReconnectBackoff = time.Second

// Config holds everything the loop needs that does not change at runtime.
type Config struct {
	Addr                string
	TCPTimeout          time.Duration // connect timeout and per-read deadline
	ImageTimeout        *time.Duration
	SlotChangeDetection bool
	OutputRoot          string
	ECPosition          reassemble.ECPositionFunc
	Catalog             *catalog.Store // nil disables cataloguing
	Panel               *panel.Bus     // nil disables panel events
}

// dialFunc is a test seam mirroring the injectable hook the teacher repo
// uses for its backend backoff tests (backend_serial.go's openSerialPort).
type dialFunc func(ctx context.Context, network, addr string, timeout time.Duration) (net.Conn, error)

func defaultDial(ctx context.Context, network, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, network, addr)
}

// Loop owns the open-image working set and the receiver-scoped counters for
// the lifetime of the process; spec.md §5 names it the sole mutator of
// that state.
type Loop struct {
	cfg   Config
	state *reassemble.State

	dial  dialFunc
	sleep func(time.Duration)

	outdatedTickInterval time.Duration
}

// NewLoop creates a Loop ready to Run.
func NewLoop(cfg Config) *Loop {
	if cfg.TCPTimeout <= 0 {
		cfg.TCPTimeout = 2100 * time.Millisecond
	}
	return &Loop{
		cfg:                  cfg,
		state:                reassemble.NewState(),
		dial:                 defaultDial,
		sleep:                time.Sleep,
		outdatedTickInterval: 30 * time.Second,
	}
}

// State exposes the working set for read-only inspection (tests, a status
// endpoint).
func (l *Loop) State() *reassemble.State { return l.state }

// Run drives connect/read/reconnect until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		metrics.IncReconnectAttempts()
		conn, err := l.dial(ctx, "tcp", l.cfg.Addr, l.cfg.TCPTimeout)
		if err != nil {
			failures++
			l.logConnectFailure(failures, err)
			metrics.IncError(metrics.ErrTransportConnect)
			l.sleep(defaultReconnectBackoff)
			continue
		}
		failures = 0
		logging.L().Info("ingest_connected", "addr", l.cfg.Addr)
		l.runConnection(ctx, conn)
		conn.Close()
	}
}

func (l *Loop) logConnectFailure(n int, err error) {
	if n <= logAllFailuresUpTo || n%logEveryNthAfter == 0 {
		logging.L().Warn("ingest_connect_failed", "attempt", n, "error", err)
	}
}

// runConnection reads packets from conn until a non-timeout error ends the
// connection or ctx is cancelled.
func (l *Loop) runConnection(ctx context.Context, conn net.Conn) {
	lastOutdatedSweep := time.Now()
	timeoutNotified := false
	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(l.cfg.TCPTimeout))
		pkt, err := ccsds.ReadPacket(conn)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if !timeoutNotified {
					logging.L().Info("ingest_read_timeout")
					timeoutNotified = true
				}
				l.sweepOutdated(time.Now())
				continue
			}
			if errors.Is(err, io.EOF) {
				logging.L().Info("ingest_disconnected", "reason", "eof")
			} else {
				logging.L().Warn("ingest_read_error", "error", err)
				metrics.IncError(metrics.ErrTransportRead)
			}
			return
		}
		timeoutNotified = false
		metrics.IncPacketsReceived()
		l.handlePacket(pkt)

		if time.Since(lastOutdatedSweep) >= l.outdatedTickInterval {
			l.sweepOutdated(time.Now())
			lastOutdatedSweep = time.Now()
		}
	}
}

func (l *Loop) sweepOutdated(now time.Time) {
	events := l.state.CheckOutdated(now, l.cfg.ImageTimeout)
	l.applyEvents(events)
}

// handlePacket runs one CCSDS packet through A→B→C→D→E→F.
func (l *Loop) handlePacket(pkt *ccsds.Packet) {
	candidate, warn, ok := biolab.ExtractCandidate(pkt.Raw())
	if !ok {
		metrics.IncLostPackets()
		return
	}
	if warn {
		logging.L().Warn("ingest_biolab_length_mismatch")
		metrics.IncLostPackets()
		return
	}
	metrics.IncBiolabPackets()

	f, err := biolab.New(candidate, time.Now(), pkt.CCSDSTime)
	if err != nil {
		logging.L().Debug("ingest_biolab_reject", "error", err)
		metrics.IncLostPackets()
		return
	}

	classification := integrity.Classify(f)
	if classification.IsWAPSImage {
		metrics.IncWAPSImagePackets()
		if !classification.GoodWAPS && f.MarkCorruptedOnce() {
			metrics.IncCorruptedPackets()
			logging.L().Warn("ingest_corrupted_fragment", "ec", f.ECAddress(), "slot", f.Slot(), "fragment", f.FragmentID())
		}
	}

	events := l.state.Ingest([]*biolab.Frame{f}, l.cfg.SlotChangeDetection, l.cfg.ECPosition, time.Now(), l.cfg.ImageTimeout)
	l.applyEvents(events)
	l.catalogFrame(f, classification, events)

	metrics.SetOpenImages(l.state.Count())
}

func (l *Loop) applyEvents(events []reassemble.Event) {
	if len(events) == 0 {
		return
	}
	var dirty []*image.Image
	for _, e := range events {
		switch e.Kind {
		case reassemble.EventImageOpened:
			metrics.IncInitializedImages()
			l.pushPanel(panel.Event{Kind: panel.ImageChanged, ImageID: imgID(e.Image), Status: "In progress"})
			dirty = append(dirty, e.Image)
		case reassemble.EventImageOverwritten:
			metrics.IncOverwrittenImages()
			l.pushPanel(panel.Event{Kind: panel.ImageChanged, ImageID: imgID(e.Image), Status: "Overwritten"})
			dirty = append(dirty, e.Image)
		case reassemble.EventImageOutdated:
			metrics.IncOutdatedImages()
			l.pushPanel(panel.Event{Kind: panel.ImageChanged, ImageID: imgID(e.Image), Status: "Outdated"})
			dirty = append(dirty, e.Image)
		case reassemble.EventFragmentAccepted:
			dirty = append(dirty, e.Image)
		case reassemble.EventFragmentDropped:
			metrics.IncLostPackets()
			logging.L().Error("ingest_reassembly_drop", "detail", e.Detail)
			metrics.IncError(metrics.ErrReassembly)
		case reassemble.EventTransmissionEnded:
			logging.L().Debug("ingest_transmission_ended")
		}
	}
	if len(dirty) > 0 {
		persist.SaveImages(dirty, l.cfg.OutputRoot)
		for _, img := range dirty {
			l.catalogImage(img)
			if img.IsComplete() && !img.UpdatePending {
				l.pushPanel(panel.Event{Kind: panel.ImageChanged, ImageID: imgID(img), Status: "Finished"})
				l.state.Retire(img)
			}
		}
	}
}

func (l *Loop) pushPanel(e panel.Event) {
	if l.cfg.Panel != nil {
		l.cfg.Panel.Push(e)
	}
}

func (l *Loop) catalogImage(img *image.Image) {
	if l.cfg.Catalog == nil {
		return
	}
	var finalization *time.Time
	if img.IsComplete() || img.Overwritten || img.Outdated {
		now := time.Now()
		finalization = &now
	}
	if err := l.cfg.Catalog.UpsertImage(img, finalization); err != nil {
		logging.L().Error("ingest_catalog_image_error", "error", err)
		metrics.IncError(metrics.ErrCatalog)
	}
}

func (l *Loop) catalogFrame(f *biolab.Frame, c integrity.Classification, events []reassemble.Event) {
	if l.cfg.Catalog == nil {
		return
	}
	imageID := catalog.UnassignedImageID
	for _, e := range events {
		if e.Image != nil && (e.Kind == reassemble.EventFragmentAccepted || e.Kind == reassemble.EventImageOpened) {
			imageID = e.Image.ID.String()
		}
	}
	row := catalog.PacketRow{
		PacketUUID:      uuid.NewV4(),
		AcquisitionTime: f.AcqTime,
		CCSDSTime:       f.CCSDSTime,
		RawBytes:        append([]byte(nil), f.Raw[:]...),
		TimeTag:         f.TimeTag(),
		PacketName:      frameName(f),
		ECAddress:       f.ECAddress(),
		GenericTMID:     f.GenericTMID(),
		GenericTMType:   f.GenericTMType(),
		GenericTMLength: f.GenericTMLength(),
		ImageMemorySlot: f.Slot(),
		TMPacketID:      f.FragmentID(),
		GoodPacket:      c.GoodWAPS,
		ImageID:         imageID,
	}
	switch f.GenericTMID() {
	case biolab.TMFlirInit, biolab.TMUcamInit:
		row.ImageNumberOfPackets = int(f.TotalFragments())
	case biolab.TMFlirData:
		row.DataPacketID = int(f.FlirDataFragmentID())
		row.DataPacketCRC = f.FlirExpectedCRC()
	case biolab.TMUcamData:
		row.DataPacketID = int(f.UcamDataFragmentID())
		row.DataPacketSize = f.UcamPayloadSize()
		row.DataPacketVerifyCode = f.UcamVerifyCode()
	}
	if err := l.cfg.Catalog.InsertPacket(row); err != nil {
		logging.L().Error("ingest_catalog_packet_error", "error", err)
		metrics.IncError(metrics.ErrCatalog)
	}
}

func imgID(img *image.Image) string {
	if img == nil {
		return ""
	}
	return img.ID.String()
}

func frameName(f *biolab.Frame) string {
	camera := "unknown"
	switch f.GenericTMID() {
	case biolab.TMFlirInit, biolab.TMFlirData:
		camera = image.CameraFLIR
	case biolab.TMUcamInit, biolab.TMUcamData:
		camera = image.CameraUcam
	}
	return f.Name(camera)
}
