package server

import (
	"context"
	"net"
	"sync/atomic"

	"go.uber.org/zap"

	"pygase/internal/connection"
	"pygase/internal/eventbus"
	"pygase/internal/protocol"
)

// newPeerConnection wires a fresh connection.Connection for a
// newly-seen peer address: ServerBody out (the delta since the peer's
// last-known time_order, plus any dispatched events), ClientBody in
// (the peer's events, fed to the simulation loop's event_wire, and its
// last-applied time_order, tracked for the next outgoing delta).
func (b *Backend) newPeerConnection(remote *net.UDPAddr) *connection.Connection {
	var lastClientTimeOrder atomic.Uint32

	buildBody := func(events []protocol.Event) ([]byte, error) {
		clientTO := protocol.SequenceNumber(lastClientTimeOrder.Load())
		update := b.store.UpdatesSince(clientTO)
		return protocol.EncodeServerBody(b.cfg.Connection.SequenceWidth, b.cfg.Connection.MaxDatagramSize, protocol.ServerBody{
			UpdateTimeOrder: update.TimeOrder,
			UpdateAttrs:     update.Attributes,
			Events:          events,
		})
	}

	decodeBody := func(body []byte) ([]protocol.Event, any, error) {
		cb, err := protocol.DecodeClientBody(body)
		if err != nil {
			return nil, nil, err
		}
		return cb.Events, cb.TimeOrder, nil
	}

	write := func(data []byte) error {
		return b.transport.WriteTo(data, remote)
	}

	var conn *connection.Connection
	onDecoded := func(extra any) {
		timeOrder, _ := extra.(protocol.SequenceNumber)
		if timeOrder > protocol.SequenceNumber(lastClientTimeOrder.Load()) || timeOrder == 0 {
			lastClientTimeOrder.Store(uint32(timeOrder))
		}
	}
	onEvents := func(events []protocol.Event) {
		for _, e := range events {
			b.handleInboundEvent(remote, conn, e)
		}
	}
	onClosed := func() {
		b.peers.Unregister(remote)
	}

	conn = connection.New(remote, b.cfg.Connection.ToConnectionConfig(), b.max, write,
		buildBody, decodeBody, onDecoded, onEvents, onClosed, b.metrics, b.logger)
	return conn
}

// handleInboundEvent reflects a client-sent event into the server's
// receive-path handler registry (if registered there) and, unless the
// type is reserved, also into the simulation loop's event_wire. The
// reserved "__shutdown__" type is special-cased: only the host_client
// may trigger it.
func (b *Backend) handleInboundEvent(remote net.Addr, conn *connection.Connection, e protocol.Event) {
	if e.Type == protocol.ShutdownEventType {
		if b.peers.IsHost(remote) {
			b.logger.Info("host client requested shutdown", zap.String("addr", remote.String()))
			go b.Shutdown()
		} else {
			b.logger.Info("shutdown refused: non-host client", zap.String("addr", remote.String()))
		}
		return
	}

	if b.recvEvents.Has(e.Type) {
		if _, err := b.recvEvents.Handle(context.Background(), e, map[string]any{"client_address": remote}); err != nil {
			b.logger.Warn("receive-path handler failed", zap.String("type", e.Type), zap.Error(err))
		}
	}

	if !protocol.IsReserved(e.Type) {
		b.machine.PushEvent(e, remote)
	}
}

// RegisterReceiveHandler installs fn on the receive-path registry
// (distinct from RegisterEventHandler's simulation-loop registry): it
// runs synchronously as soon as a matching event is decoded, before the
// event also reaches the simulation loop's queue.
func (b *Backend) RegisterReceiveHandler(eventType string, fn eventbus.Handler) {
	b.recvEvents.Register(eventType, fn)
}

func (b *Backend) handleDatagram(remote *net.UDPAddr, data []byte) {
	conn, ok := b.peers.Lookup(remote)
	if !ok {
		conn = b.newPeerConnection(remote)
		isHost := b.peers.Register(remote, conn)
		if isHost {
			b.logger.Info("host client connected", zap.String("addr", remote.String()))
		}
		conn.Start(b.runCtx())
	}
	conn.HandleDatagram(data)
}
