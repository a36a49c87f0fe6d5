// Package chat is the secure chat node: contacts learned from signed
// adverts, encrypted direct and public-channel texts, acknowledged
// delivery with retries, duplicate suppression and clock consensus.
//
// All state is owned by the goroutine running Node.Run. Callers reach it
// through Exec and the typed helpers, which hand closures to the loop, and
// observe it through the Events channel.
package chat

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/meshmodem/internal/config"
	"github.com/danmuck/meshmodem/internal/dedup"
	"github.com/danmuck/meshmodem/internal/delivery"
	"github.com/danmuck/meshmodem/internal/identity"
	"github.com/danmuck/meshmodem/internal/mesh"
	"github.com/danmuck/meshmodem/internal/meshcrypto"
	"github.com/danmuck/meshmodem/internal/observability"
	"github.com/danmuck/meshmodem/internal/protocol/packet"
	"github.com/danmuck/meshmodem/internal/timesync"
)

var (
	ErrNoRecipient = errors.New("chat: no recipient selected")
	ErrNotRunning  = errors.New("chat: node not running")
)

// ClockSyncText makes the receiver adopt the sender's timestamp.
const ClockSyncText = "clock sync"

type Config struct {
	Prefs config.Prefs
	// PrefsPath and ContactsPath enable persistence when set.
	PrefsPath    string
	ContactsPath string

	Delivery    delivery.Config
	TimeSync    timesync.Config
	DedupSize   int
	DedupWindow uint32
	HistorySize int
	// ChannelKey is the base64 public channel key.
	ChannelKey string
	// EventBuffer bounds undelivered events; overflow is dropped.
	EventBuffer int
}

func DefaultConfig() Config {
	return Config{
		Prefs:       config.DefaultPrefs(),
		Delivery:    delivery.DefaultConfig(),
		TimeSync:    timesync.DefaultConfig(),
		DedupSize:   dedup.DefaultCapacity,
		DedupWindow: dedup.DefaultWindow,
		HistorySize: DefaultHistorySize,
		ChannelKey:  meshcrypto.PublicChannelKey,
		EventBuffer: 64,
	}
}

// Snapshot is a point-in-time view for status reporting.
type Snapshot struct {
	Name      string  `json:"name"`
	PublicKey string  `json:"public_key"`
	Contacts  int     `json:"contacts"`
	History   int     `json:"history"`
	Recipient string  `json:"recipient"`
	Delivery  string  `json:"delivery"`
	Clock     uint32  `json:"clock"`
	LastSNR   float32 `json:"last_snr"`
	RxPackets uint64  `json:"rx_packets"`
	TxPackets uint64  `json:"tx_packets"`
}

type request struct {
	fn   func(ctx context.Context) ([]string, error)
	done chan reply
}

type reply struct {
	lines []string
	err   error
}

// Node is one chat participant on the mesh.
type Node struct {
	cfg      Config
	id       Identity
	selfHash byte
	link     mesh.Link
	sender   *mesh.Sender
	clock    timesync.Clock
	channel  meshcrypto.Channel

	contacts  *Contacts
	history   *History
	dedup     *dedup.Cache
	consensus *timesync.Consensus
	engine    *delivery.Engine

	recipient *Contact
	public    bool

	txCtx    context.Context
	timer    *time.Timer
	timeouts chan uint64
	secrets  chan derivedSecret
	requests chan request
	events   chan Event
	done     chan struct{}

	lastSNR   float32
	rxPackets uint64
	txPackets uint64
}

func New(cfg Config, id Identity, link mesh.Link, clock timesync.Clock) (*Node, error) {
	def := DefaultConfig()
	if cfg.ChannelKey == "" {
		cfg.ChannelKey = def.ChannelKey
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if err := config.ValidatePrefs(cfg.Prefs); err != nil {
		return nil, err
	}
	ch, err := meshcrypto.NewChannel(PublicName, cfg.ChannelKey)
	if err != nil {
		return nil, err
	}
	pub := id.PublicKey()
	if len(pub) == 0 {
		return nil, fmt.Errorf("chat: identity has no public key")
	}
	n := &Node{
		cfg:       cfg,
		id:        id,
		selfHash:  pub[0],
		link:      link,
		sender:    mesh.NewSender(link, cfg.Prefs.Radio()),
		clock:     clock,
		channel:   ch,
		contacts:  NewContacts(),
		history:   NewHistory(cfg.HistorySize),
		dedup:     dedup.New(cfg.DedupSize, cfg.DedupWindow, clock),
		consensus: timesync.NewConsensus(cfg.TimeSync, clock),
		txCtx:     context.Background(),
		timeouts:  make(chan uint64, 4),
		secrets:   make(chan derivedSecret, 8),
		requests:  make(chan request),
		events:    make(chan Event, cfg.EventBuffer),
		done:      make(chan struct{}),
	}
	n.engine = delivery.NewEngine(cfg.Delivery, clock, n)
	if cfg.ContactsPath != "" {
		loaded, err := LoadContacts(cfg.ContactsPath, n.contacts)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.ContactsPath).Msg("chat: contacts not loaded")
		} else {
			log.Info().Int("contacts", loaded).Msg("chat: contacts loaded")
		}
	}
	return n, nil
}

// Events delivers asynchronous notifications. It is never closed.
func (n *Node) Events() <-chan Event {
	return n.events
}

// Run owns the node state until ctx ends or the link fails.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(n.done)
	n.txCtx = ctx

	rx := make(chan *packet.Packet, 16)
	rxErr := make(chan error, 1)
	go func() {
		for {
			pkt, err := mesh.Receive(ctx, n.link)
			if err != nil {
				rxErr <- err
				return
			}
			select {
			case rx <- pkt:
			case <-ctx.Done():
				return
			}
		}
	}()

	for _, c := range n.contacts.All() {
		n.deriveSecret(c)
	}
	log.Info().Str("name", n.cfg.Prefs.NodeName).Str("key", hex.EncodeToString(n.id.PublicKey()[:4])).Msg("chat: node running")
	for {
		select {
		case <-ctx.Done():
			n.stopTimer()
			return ctx.Err()
		case err := <-rxErr:
			n.stopTimer()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("chat: link: %w", err)
		case pkt := <-rx:
			n.handlePacket(pkt)
		case seq := <-n.timeouts:
			n.handleTimeout(seq)
		case ds := <-n.secrets:
			n.storeSecret(ds)
		case req := <-n.requests:
			lines, err := req.fn(ctx)
			req.done <- reply{lines: lines, err: err}
		}
	}
}

// do runs fn on the loop and waits for its result.
func (n *Node) do(ctx context.Context, fn func(ctx context.Context) ([]string, error)) ([]string, error) {
	req := request{fn: fn, done: make(chan reply, 1)}
	select {
	case n.requests <- req:
	case <-n.done:
		return nil, ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-req.done:
		return r.lines, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshot reads node state through the loop.
func (n *Node) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	_, err := n.do(ctx, func(context.Context) ([]string, error) {
		s = n.snapshot()
		return nil, nil
	})
	return s, err
}

func (n *Node) snapshot() Snapshot {
	return Snapshot{
		Name:      n.cfg.Prefs.NodeName,
		PublicKey: hex.EncodeToString(n.id.PublicKey()),
		Contacts:  n.contacts.Len(),
		History:   n.history.Len(),
		Recipient: n.recipientName(),
		Delivery:  n.engine.State().String(),
		Clock:     n.clock.Now(),
		LastSNR:   n.lastSNR,
		RxPackets: n.rxPackets,
		TxPackets: n.txPackets,
	}
}

// History returns the received message ring, oldest first.
func (n *Node) History(ctx context.Context) ([]HistoryEntry, error) {
	var out []HistoryEntry
	_, err := n.do(ctx, func(context.Context) ([]string, error) {
		out = n.history.Entries()
		return nil, nil
	})
	return out, err
}

// Reply sends text to a contact by name, or to the public channel, without
// changing the selected recipient.
func (n *Node) Reply(ctx context.Context, to, text string) error {
	_, err := n.do(ctx, func(context.Context) ([]string, error) {
		if strings.EqualFold(to, PublicName) {
			return nil, n.sendPublic(text)
		}
		c, err := n.contacts.Resolve(to)
		if err != nil {
			return nil, err
		}
		return nil, n.sendDirect(text, c)
	})
	return err
}

func (n *Node) emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case n.events <- e:
	default:
		log.Warn().Str("kind", e.Kind.String()).Msg("chat: event buffer full, dropping")
	}
}

func (n *Node) recipientName() string {
	if n.public {
		return PublicName
	}
	if n.recipient != nil {
		return n.recipient.Name
	}
	return ""
}

func (n *Node) saveContacts() {
	if n.cfg.ContactsPath == "" {
		return
	}
	if err := SaveContacts(n.cfg.ContactsPath, n.contacts); err != nil {
		log.Warn().Err(err).Msg("chat: contacts not saved")
	}
}

func (n *Node) savePrefs() error {
	if n.cfg.PrefsPath == "" {
		return nil
	}
	return config.SavePrefs(n.cfg.PrefsPath, n.cfg.Prefs)
}

type derivedSecret struct {
	pub    [identity.PubKeySize]byte
	secret []byte
	err    error
}

// deriveSecret computes a contact's pairwise secret off the loop, since a
// modem-held identity answers over the serial link. The result comes back
// through n.secrets.
func (n *Node) deriveSecret(c *Contact) {
	if c.secret != nil || c.deriving {
		return
	}
	c.deriving = true
	ctx, pub := n.txCtx, c.ID.PubKey
	go func() {
		s, err := n.id.SharedSecret(pub[:])
		select {
		case n.secrets <- derivedSecret{pub: pub, secret: s, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (n *Node) storeSecret(ds derivedSecret) {
	c := n.contacts.ByKey(ds.pub[:])
	if c == nil {
		return
	}
	c.deriving = false
	if ds.err != nil {
		log.Warn().Err(ds.err).Str("name", c.Name).Msg("chat: shared secret not derived")
		return
	}
	if c.secret == nil {
		c.secret = ds.secret
	}
}

// secretFor returns the cached pairwise secret, deriving it inline when
// the background derivation has not landed yet.
func (n *Node) secretFor(c *Contact) ([]byte, error) {
	if c.secret != nil {
		return c.secret, nil
	}
	s, err := n.id.SharedSecret(c.ID.PubKey[:])
	if err != nil {
		return nil, err
	}
	c.secret = s
	return s, nil
}

func (n *Node) transmit(send func() error, pkt *packet.Packet) error {
	if err := send(); err != nil {
		return err
	}
	n.txPackets++
	observability.RecordRadioPacket("tx")
	observability.RecordAirtime(n.sender.Airtime(pkt))
	return nil
}

func (n *Node) flood(pkt *packet.Packet) error {
	return n.transmit(func() error { return n.sender.SendFlood(n.txCtx, pkt) }, pkt)
}

func (n *Node) direct(pkt *packet.Packet, path []byte) error {
	return n.transmit(func() error { return n.sender.SendDirect(n.txCtx, pkt, path) }, pkt)
}

func (n *Node) zeroHop(pkt *packet.Packet) error {
	return n.transmit(func() error { return n.sender.SendZeroHop(n.txCtx, pkt) }, pkt)
}

// SendMessage puts one direct text attempt on air. A nil path floods.
func (n *Node) SendMessage(to delivery.Recipient, msg delivery.Message, path []byte) (delivery.Receipt, error) {
	c, ok := to.(*Contact)
	if !ok {
		return delivery.Receipt{}, fmt.Errorf("chat: unsupported recipient %T", to)
	}
	secret, err := n.secretFor(c)
	if err != nil {
		return delivery.Receipt{}, err
	}
	flags := TextFlags(TxtPlain, msg.Attempt)
	sealed, err := Seal(secret, Plaintext{Timestamp: msg.Timestamp, Flags: flags, Text: msg.Text})
	if err != nil {
		return delivery.Receipt{}, err
	}
	pkt := packet.New(packet.RouteFlood, packet.PayloadTxtMsg, DirectPayload(c.ID.Hash(), n.selfHash, sealed))
	receipt := delivery.Receipt{
		ExpectedAck: AckCode(msg.Timestamp, flags, msg.Text, n.id.PublicKey()),
		Airtime:     n.sender.Airtime(pkt),
		Route:       delivery.RouteFlood,
	}
	if path != nil {
		receipt.Route = delivery.RouteDirect
		receipt.Hops = len(path)
		err = n.direct(pkt, path)
	} else {
		err = n.flood(pkt)
	}
	if err != nil {
		return delivery.Receipt{}, err
	}
	return receipt, nil
}

func (n *Node) sendDirect(text string, c *Contact) error {
	att, err := n.engine.Send(text, c)
	if err != nil {
		return err
	}
	n.armTimer(att)
	route := HistoryDirect
	if att.Route == delivery.RouteFlood {
		route = HistoryFlood
	}
	n.history.Add(HistoryEntry{From: n.cfg.Prefs.NodeName, Text: text, Timestamp: att.Timestamp, Route: route})
	return nil
}

func (n *Node) sendPublic(text string) error {
	if err := delivery.ValidateText(text, delivery.TextBudget(true, n.cfg.Prefs.NodeName)); err != nil {
		return err
	}
	ts := n.clock.Now()
	body := n.cfg.Prefs.NodeName + ": " + text
	sealed, err := Seal(n.channel.Secret[:], Plaintext{Timestamp: ts, Flags: TextFlags(TxtPlain, 0), Text: body})
	if err != nil {
		return err
	}
	// remember our own text so re-floods of it are not shown back to us
	n.dedup.IsDuplicate(ts, n.channel.DedupKey(), body)
	pkt := packet.New(packet.RouteFlood, packet.PayloadGrpTxt, GroupPayload(n.channel, sealed))
	if err := n.flood(pkt); err != nil {
		return fmt.Errorf("%w: %v", delivery.ErrSendFailed, err)
	}
	n.history.Add(HistoryEntry{From: n.cfg.Prefs.NodeName, Text: text, Timestamp: ts, Route: HistoryPublic})
	return nil
}

func (n *Node) armTimer(att delivery.Attempt) {
	n.stopTimer()
	seq := att.Seq
	n.timer = time.AfterFunc(att.Timeout, func() {
		select {
		case n.timeouts <- seq:
		case <-n.done:
		}
	})
}

func (n *Node) stopTimer() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

func (n *Node) handleTimeout(seq uint64) {
	att, err := n.engine.OnTimeout(seq)
	switch {
	case errors.Is(err, delivery.ErrNoPending):
		return
	case err != nil:
		n.timer = nil
		n.emit(Event{Kind: EventFailed, Text: err.Error()})
		return
	}
	n.armTimer(att)
	n.emit(Event{Kind: EventRetry, Attempt: int(att.Attempt), FellBack: att.FellBack})
	if att.FellBack {
		n.saveContacts()
	}
}

func (n *Node) handlePacket(pkt *packet.Packet) {
	n.rxPackets++
	n.lastSNR = pkt.SNR
	observability.RecordRadioPacket("rx")
	switch pkt.PayloadType() {
	case packet.PayloadAdvert:
		n.handleAdvert(pkt)
	case packet.PayloadTxtMsg:
		n.handleText(pkt)
	case packet.PayloadAck:
		n.handleAck(pkt)
	case packet.PayloadGrpTxt:
		n.handleGroup(pkt)
	default:
		log.Trace().Str("type", pkt.PayloadType().String()).Msg("chat: ignoring payload type")
	}
}

func (n *Node) observeClock(ts uint32) {
	corr, ok := n.consensus.Observe(ts)
	if !ok {
		return
	}
	observability.RecordClockCorrection()
	log.Info().Uint32("from", corr.From).Uint32("to", corr.To).Int("samples", corr.Samples).Msg("chat: clock synced from peers")
	n.emit(Event{Kind: EventClock, Timestamp: corr.To, Text: fmt.Sprintf("clock +%ds from %d peers", corr.Delta(), corr.Samples)})
}

func (n *Node) handleAdvert(pkt *packet.Packet) {
	adv, err := ParseAdvert(pkt.Payload)
	if err != nil {
		log.Debug().Err(err).Msg("chat: dropping advert")
		return
	}
	if adv.ID.PubKey[0] == n.selfHash && string(adv.ID.PubKey[:]) == string(n.id.PublicKey()) {
		return
	}
	n.observeClock(adv.Timestamp)
	n.learnAdvert(adv, len(pkt.Path))
}

// learnAdvert adds or refreshes the contact an advert describes. Only chat
// nodes are kept and replayed adverts are ignored.
func (n *Node) learnAdvert(adv Advert, hops int) (*Contact, error) {
	if adv.AppData.Type != AdvertChat {
		log.Debug().Str("type", adv.AppData.Type.String()).Str("name", adv.AppData.Name).Msg("chat: ignoring non-chat advert")
		return nil, fmt.Errorf("%w: %s node", ErrBadAdvert, adv.AppData.Type)
	}
	c := n.contacts.ByKey(adv.ID.PubKey[:])
	isNew := c == nil
	if !isNew && adv.Timestamp <= c.LastAdvert {
		log.Debug().Str("name", c.Name).Uint32("ts", adv.Timestamp).Msg("chat: ignoring replayed advert")
		return c, nil
	}
	if isNew {
		var err error
		c, _, err = n.contacts.Add(&Contact{ID: adv.ID, OutPathLen: -1})
		if err != nil {
			log.Warn().Err(err).Str("name", adv.AppData.Name).Msg("chat: contact not added")
			n.emit(Event{Kind: EventNotice, Text: err.Error()})
			return nil, err
		}
	}
	if adv.AppData.Name != "" {
		c.Name = adv.AppData.Name
	} else if c.Name == "" {
		c.Name = hex.EncodeToString(adv.ID.PubKey[:4])
	}
	c.Type = adv.AppData.Type
	c.Flags = adv.AppData.Flags()
	c.LastAdvert = adv.Timestamp
	if adv.AppData.HasLoc {
		c.Lat, c.Lon = adv.AppData.Lat, adv.AppData.Lon
	}
	n.deriveSecret(c)
	n.saveContacts()
	n.emit(Event{Kind: EventContact, From: c.Name, Hops: hops, New: isNew, Timestamp: adv.Timestamp})
	return c, nil
}

func (n *Node) handleText(pkt *packet.Packet) {
	dest, src, sealed, err := SplitDirect(pkt.Payload)
	if err != nil || dest != n.selfHash {
		return
	}
	var (
		from  *Contact
		plain Plaintext
	)
	for _, c := range n.contacts.ByHash(src) {
		secret, err := n.secretFor(c)
		if err != nil {
			continue
		}
		if p, err := Open(secret, sealed); err == nil {
			from, plain = c, p
			break
		}
	}
	if from == nil {
		log.Debug().Uint8("src", src).Msg("chat: text from unknown sender")
		return
	}
	if plain.Type() != TxtPlain {
		log.Debug().Uint8("type", plain.Type()).Str("from", from.Name).Msg("chat: ignoring non-plain text")
		return
	}

	if pkt.IsRouteFlood() {
		back := mesh.ReversePath(pkt.Path)
		if cur, ok := from.OutPath(); !ok || string(cur) != string(back) {
			if from.SetPath(back) {
				n.saveContacts()
				n.emit(Event{Kind: EventPath, From: from.Name, Hops: len(back)})
			}
		}
	}
	n.sendAck(from, AckCode(plain.Timestamp, plain.Flags, plain.Text, from.ID.PubKey[:]))

	n.observeClock(plain.Timestamp)
	if n.dedup.IsDuplicate(plain.Timestamp, from.ID.PubKey[:], plain.Text) {
		observability.RecordDuplicate("direct")
		log.Debug().Str("from", from.Name).Uint8("attempt", plain.Attempt()).Msg("chat: duplicate text acked, not shown")
		return
	}
	route := HistoryDirect
	if pkt.IsRouteFlood() {
		route = HistoryFlood
	}
	n.history.Add(HistoryEntry{From: from.Name, Text: plain.Text, Timestamp: plain.Timestamp, Route: route})
	n.emit(Event{
		Kind:      EventMessage,
		From:      from.Name,
		Text:      plain.Text,
		Timestamp: plain.Timestamp,
		Route:     route,
		Hops:      len(pkt.Path),
		SNR:       pkt.SNR,
	})
	if plain.Text == ClockSyncText {
		n.applyClock(plain.Timestamp + 1)
	}
}

func (n *Node) sendAck(to *Contact, code uint32) {
	pkt := packet.New(packet.RouteFlood, packet.PayloadAck, AckPayload(code))
	var err error
	if path, ok := to.OutPath(); ok {
		err = n.direct(pkt, path)
	} else {
		err = n.flood(pkt)
	}
	if err != nil {
		log.Warn().Err(err).Str("to", to.Name).Msg("chat: ack not sent")
	}
}

func (n *Node) handleAck(pkt *packet.Packet) {
	code, err := ParseAck(pkt.Payload)
	if err != nil {
		return
	}
	res, ok := n.engine.OnAck(code)
	if !ok {
		log.Trace().Uint32("code", code).Msg("chat: unmatched ack")
		return
	}
	n.stopTimer()
	n.emit(Event{Kind: EventAck, From: res.Recipient.DisplayName(), Text: res.Text, RTT: res.RTT, Attempt: int(res.Attempts)})
}

func (n *Node) handleGroup(pkt *packet.Packet) {
	hash, sealed, err := SplitGroup(pkt.Payload)
	if err != nil || hash != n.channel.Hash {
		return
	}
	plain, err := Open(n.channel.Secret[:], sealed)
	if err != nil {
		log.Debug().Err(err).Msg("chat: channel text failed to open")
		return
	}
	n.observeClock(plain.Timestamp)
	if n.dedup.IsDuplicate(plain.Timestamp, n.channel.DedupKey(), plain.Text) {
		observability.RecordDuplicate("channel")
		return
	}
	n.history.Add(HistoryEntry{From: PublicName, Text: plain.Text, Timestamp: plain.Timestamp, Route: HistoryPublic})
	from, _, _ := strings.Cut(plain.Text, ": ")
	n.emit(Event{
		Kind:      EventChannel,
		From:      from,
		Text:      plain.Text,
		Timestamp: plain.Timestamp,
		Route:     HistoryPublic,
		Hops:      len(pkt.Path),
		SNR:       pkt.SNR,
	})
}

// applyClock moves the clock forward to ts and reports the outcome.
func (n *Node) applyClock(ts uint32) error {
	if err := timesync.SetClock(n.clock, ts); err != nil {
		n.emit(Event{Kind: EventNotice, Text: err.Error()})
		return err
	}
	n.emit(Event{Kind: EventClock, Timestamp: ts, Text: "clock set"})
	return nil
}

func (n *Node) selfAdvert() (*packet.Packet, error) {
	p := n.cfg.Prefs
	app := AppData{Type: AdvertChat, Name: p.NodeName}
	if p.Lat != 0 || p.Lon != 0 {
		app.HasLoc, app.Lat, app.Lon = true, p.Lat, p.Lon
	}
	payload, err := BuildAdvert(n.id, n.clock.Now(), app)
	if err != nil {
		return nil, err
	}
	return packet.New(packet.RouteFlood, packet.PayloadAdvert, payload), nil
}

// Advertise sends a zero-hop advert.
func (n *Node) Advertise(ctx context.Context) error {
	_, err := n.do(ctx, func(context.Context) ([]string, error) {
		return nil, n.advertise()
	})
	return err
}

func (n *Node) advertise() error {
	pkt, err := n.selfAdvert()
	if err != nil {
		return err
	}
	return n.zeroHop(pkt)
}
