package validator

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/beaconval/internal/device"
)

func (s *Sequencer) onConnectionStateChange(link device.Link, status device.Status, state device.State) {
	log := s.logger.WithFields(logrus.Fields{
		"status": status,
		"state":  state,
	})
	if s.settled(link, state) {
		log.Debug("Connection state change outside a run")
		return
	}
	s.link = link

	if !status.OK() {
		if state == device.StateDisconnected {
			s.dropLink()
		}
		s.fail(ErrLinkDropped, fmt.Sprintf("Failed. Status: %d. New State: %d", int(status), int(state)))
		return
	}

	switch state {
	case device.StateConnected:
		log.Debug("Connected, discovering services")
		link.DiscoverServices()
	case device.StateDisconnected:
		s.dropLink()
		s.disconnected = true
		// A clean disconnect ends the head step whatever it is.
		if head, err := s.queue.Peek(); err == nil && head.kind != KindDisconnect {
			log.WithField("kind", head.kind).Info("Link closed during a step, moving on")
		}
		s.pass()
	}
}

func (s *Sequencer) onServicesDiscovered(link device.Link, status device.Status) {
	if s.settled(link, device.StateConnected) {
		return
	}
	s.link = link
	if !status.OK() {
		s.fail(ErrLinkDropped, fmt.Sprintf("Service discovery failed. Status: %d", int(status)))
		return
	}

	s.service = link.Service(s.opts.ConfigServiceUUID)
	if head, err := s.queue.Peek(); err == nil && head.kind == KindConnect {
		if popErr := s.queue.Pop(); popErr != nil {
			s.logger.WithError(popErr).Error("Cannot advance the action queue")
		}
	}
	s.logger.WithFields(logrus.Fields{
		"address": link.Address(),
		"service": s.service != nil,
	}).Info("Connected to beacon")
	s.sink.ConnectedToBeacon()
	s.dispatch()
}

func (s *Sequencer) onCharacteristicRead(link device.Link, uuid string, value []byte, status device.Status) {
	if s.settled(link, device.StateConnected) {
		return
	}
	s.link = link
	head, err := s.queue.Peek()
	if err != nil {
		s.logger.WithError(err).Error("Read completed on an exhausted action queue")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"characteristic": uuid,
		"status":         status,
		"value":          formatBytes(value),
	}).Debug("Characteristic read")

	if reason := evaluateRead(head, value, status); reason != "" {
		s.fail(ErrProtocolMismatch, reason)
		return
	}
	s.pass()
}

func (s *Sequencer) onCharacteristicWrite(link device.Link, uuid string, status device.Status) {
	if s.settled(link, device.StateConnected) {
		return
	}
	s.link = link
	head, err := s.queue.Peek()
	if err != nil {
		s.logger.WithError(err).Error("Write completed on an exhausted action queue")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"characteristic": uuid,
		"status":         status,
	}).Debug("Characteristic written")

	if reason := evaluateWrite(head, status); reason != "" {
		s.fail(ErrProtocolMismatch, reason)
		return
	}
	s.pass()
}

// settled reports whether link events are outside an active run and must
// not be evaluated.
func (s *Sequencer) settled(link device.Link, state device.State) bool {
	if !s.started {
		return true
	}
	if s.retired != nil && link == s.retired {
		s.logger.WithField("state", state).Debug("Event from a replaced link")
		return true
	}
	if s.finished {
		s.cleanupLate(link, state)
		return true
	}
	return false
}

// cleanupLate handles link events that arrive after the verdict. They are
// never evaluated; a stopped run still disconnects a link that shows up late.
func (s *Sequencer) cleanupLate(link device.Link, state device.State) {
	if state == device.StateDisconnected {
		s.dropLink()
		return
	}
	if !s.stopped || link == nil {
		return
	}
	if s.link == nil {
		s.link = link
	}
	s.dispatch()
}

func (s *Sequencer) dropLink() {
	s.link = nil
	s.service = nil
}

// retireLink disconnects the held link so a fresh one can take its place.
// Its remaining events are ignored.
func (s *Sequencer) retireLink() {
	if s.link == nil {
		return
	}
	s.logger.WithField("address", s.link.Address()).Debug("Replacing held link")
	s.retired = s.link
	s.link.Disconnect()
	s.dropLink()
	s.disconnected = true
}
