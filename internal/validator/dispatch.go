package validator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/beaconval/internal/device"
	"github.com/srg/beaconval/internal/groutine"
)

// dispatch looks at the head step and starts whatever it needs. It never
// blocks: every operation completes through a later event.
func (s *Sequencer) dispatch() {
	if s.stopped {
		if s.link != nil && !s.cleanupSent {
			s.cleanupSent = true
			s.logger.WithField("address", s.link.Address()).Debug("Disconnecting stopped run")
			s.link.Disconnect()
		}
		return
	}
	if s.finished {
		return
	}

	head, err := s.queue.Peek()
	if err != nil {
		s.logger.WithError(err).Error("Dispatch on an exhausted action queue")
		s.finished = true
		s.err = err
		return
	}

	s.logger.WithFields(logrus.Fields{
		"test":   s.script.Name(),
		"step":   s.headIndex(),
		"kind":   head.kind,
		"linked": s.link != nil,
	}).Debug("Dispatching step")

	switch {
	case head.kind == KindLast:
		s.complete()
	case head.kind == KindConnect:
		s.retireLink()
		s.connect()
	case head.kind.IsAdvertisement():
		s.startScan(s.opts.URIServiceUUID)
	case s.link == nil:
		s.connect()
	case head.kind.IsRead():
		if svc := s.configService(); svc != nil {
			svc.ReadCharacteristic(head.characteristic)
		}
	case head.kind.IsWrite():
		if svc := s.configService(); svc != nil {
			svc.WriteCharacteristic(head.characteristic, head.value)
		}
	case head.kind == KindDisconnect:
		s.link.Disconnect()
	}
}

// configService returns the config service of the current link, failing the
// run when the beacon does not expose it.
func (s *Sequencer) configService() device.Service {
	if s.service == nil {
		s.service = s.link.Service(s.opts.ConfigServiceUUID)
	}
	if s.service == nil {
		err := &device.NotFoundError{Resource: "service", UUIDs: []string{s.opts.ConfigServiceUUID}}
		s.fail(ErrProtocolMismatch, err.Error())
		return nil
	}
	return s.service
}

// connect reaches the pinned device, or scans for one. After a disconnect
// the beacon gets ReconnectDelay to settle first.
func (s *Sequencer) connect() {
	if s.disconnected {
		s.disconnected = false
		s.stopSettle()
		s.settleGen++
		gen := s.settleGen
		s.logger.WithField("delay", s.opts.ReconnectDelay).Debug("Waiting before reconnecting")
		s.settleTimer = time.AfterFunc(s.opts.ReconnectDelay, func() {
			s.events.post(settleElapsed{gen: gen})
		})
		return
	}
	s.connectNow()
}

func (s *Sequencer) connectNow() {
	s.sink.WaitingForConfigMode()
	if s.address == "" {
		s.startScan(s.opts.ConfigServiceUUID)
		return
	}
	s.logger.WithField("address", s.address).Debug("Connecting to beacon")
	s.radio.Connect(s.address, s.linkEvents)
}

func (s *Sequencer) onSettleElapsed(gen int) {
	if gen != s.settleGen || s.stopped || s.finished {
		return
	}
	s.settleTimer = nil
	s.connectNow()
}

func (s *Sequencer) stopSettle() {
	if s.settleTimer != nil {
		s.settleTimer.Stop()
		s.settleTimer = nil
	}
	s.settleGen++
}

// startScan opens a new scan window filtered by serviceUUID.
func (s *Sequencer) startScan(serviceUUID string) {
	s.stopScan()
	s.collector.Begin(serviceUUID)
	gen := s.scanGen

	ctx, cancel := context.WithCancel(s.ctx)
	s.scanCancel = cancel

	s.logger.WithFields(logrus.Fields{
		"service": serviceUUID,
		"window":  s.opts.ScanTimeout,
	}).Debug("Scanning")

	groutine.Go(ctx, "sequencer-scan", func(ctx context.Context) {
		err := s.radio.Scan(ctx, serviceUUID, func(adv device.Advertisement) {
			s.events.post(advertisementSeen{gen: gen, adv: adv})
		})
		s.events.post(scanEnded{gen: gen, err: err})
	})
	s.scanTimer = time.AfterFunc(s.opts.ScanTimeout, func() {
		s.events.post(scanWindowElapsed{gen: gen})
	})
}

// stopScan cancels the current window. Events it already produced are
// discarded because the generation moves on.
func (s *Sequencer) stopScan() {
	s.awaitingChoice = false
	if s.scanCancel != nil {
		s.scanCancel()
		s.scanCancel = nil
	}
	if s.scanTimer != nil {
		s.scanTimer.Stop()
		s.scanTimer = nil
	}
	s.scanGen++
}

func (s *Sequencer) scanning(gen int) bool {
	return s.scanCancel != nil && gen == s.scanGen
}

func (s *Sequencer) onAdvertisement(gen int, adv device.Advertisement) {
	if !s.scanning(gen) || !s.collector.Add(adv) {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"address": adv.Addr(),
		"name":    adv.LocalName(),
		"rssi":    adv.RSSI(),
	}).Debug("Beacon discovered")

	// An advertisement check on a pinned beacon does not need the whole window.
	head, err := s.queue.Peek()
	if err != nil || !head.kind.IsAdvertisement() || s.address == "" {
		return
	}
	if addressKey(adv.Addr()) != addressKey(s.address) {
		return
	}
	s.stopScan()
	c, _ := s.collector.Lookup(s.address)
	s.checkAdvertisement(head, c.Payload)
}

func (s *Sequencer) onScanEnded(gen int, err error) {
	if !s.scanning(gen) || err == nil || errors.Is(err, context.Canceled) {
		return
	}
	s.fail(ErrLinkDropped, fmt.Sprintf("Scan failed: %v", err))
}

func (s *Sequencer) onScanWindowElapsed(gen int) {
	if !s.scanning(gen) {
		return
	}
	s.stopScan()
	s.resolveScan()
}

// resolveScan decides what the finished window means for the head step.
func (s *Sequencer) resolveScan() {
	head, err := s.queue.Peek()
	if err != nil {
		s.logger.WithError(err).Error("Scan resolved on an exhausted action queue")
		return
	}
	adv := head.kind.IsAdvertisement()
	results := s.collector.Results()

	s.logger.WithFields(logrus.Fields{
		"service":    s.collector.Filter(),
		"candidates": len(results),
	}).Debug("Scan window elapsed")

	if s.address != "" {
		if c, ok := s.collector.Lookup(s.address); ok {
			s.choose(c)
			return
		}
		s.notFound(adv)
		return
	}

	switch len(results) {
	case 0:
		s.notFound(adv)
	case 1:
		s.choose(results[0])
	default:
		s.awaitingChoice = true
		s.logger.WithField("candidates", len(results)).Info("Several beacons found, waiting for a choice")
		s.sink.MultipleCandidatesFound(results)
	}
}

func (s *Sequencer) notFound(adv bool) {
	if adv {
		s.fail(ErrNoDeviceFound, "could not find adv packet")
		return
	}
	s.fail(ErrNoDeviceFound, "no beacon found")
}

// choose pins c and carries on with the head step that scanned for it.
func (s *Sequencer) choose(c Candidate) {
	s.awaitingChoice = false
	s.address = c.Address
	head, err := s.queue.Peek()
	if err == nil && head.kind.IsAdvertisement() {
		s.checkAdvertisement(head, c.Payload)
		return
	}
	s.logger.WithField("address", s.address).Debug("Connecting to beacon")
	s.radio.Connect(s.address, s.linkEvents)
}

func (s *Sequencer) checkAdvertisement(head *Action, payload []byte) {
	if reason := inspectAdvertisement(head, payload); reason != "" {
		s.fail(ErrProtocolMismatch, reason)
		return
	}
	s.pass()
}
