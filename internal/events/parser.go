// Package events normalizes raw ledger events into domain events.
// The feed carries many contract events this pipeline does not care
// about; those are filtered here, silently, before the projector.
package events

import (
	"log"
	"math/big"
	"strconv"

	"stellar-stream-indexer/internal/codec"
	"stellar-stream-indexer/internal/domain"
)

// Leading topic symbols emitted by the stream contract.
const (
	topicCreate   = "create"
	topicWithdraw = "withdraw"
	topicCancel   = "cancel"
	topicTransfer = "transfer"
	topicPause    = "pause"
	topicProposal = "proposal"
)

// kindByTopic maps recognized leading topic symbols to event kinds.
var kindByTopic = map[string]domain.EventKind{
	topicCreate:   domain.EventCreate,
	topicWithdraw: domain.EventWithdraw,
	topicCancel:   domain.EventCancel,
	topicTransfer: domain.EventTransfer,
	topicPause:    domain.EventPause,
	topicProposal: domain.EventProposalCreated,
}

// Parser turns RawEvents into normalized domain events.
type Parser struct {
	dec    *codec.Decoder
	logger *log.Logger

	// onSkipped is called once per event whose leading topic is
	// unrecognized. Skipping is a normal, frequent outcome.
	onSkipped func(topic string)
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithLogger sets the parser's logger.
func WithLogger(l *log.Logger) ParserOption {
	return func(p *Parser) { p.logger = l }
}

// WithSkipHook registers a callback for unrecognized leading topics.
func WithSkipHook(fn func(topic string)) ParserOption {
	return func(p *Parser) { p.onSkipped = fn }
}

// NewParser creates a Parser backed by the given value decoder.
func NewParser(dec *codec.Decoder, opts ...ParserOption) *Parser {
	if dec == nil {
		dec = codec.NewDecoder()
	}
	p := &Parser{dec: dec, logger: log.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse normalizes one raw event. It returns nil when the leading
// topic is not a recognized kind; this is not an error and is never
// logged as one. Field extraction tolerates the historical payload
// shapes the contract has emitted over time.
func (p *Parser) Parse(raw *domain.RawEvent) *domain.Event {
	if raw == nil || len(raw.Topics) == 0 {
		return nil
	}

	lead := p.dec.Decode(raw.Topics[0])
	kind, ok := kindByTopic[lead.Symbol()]
	if !ok {
		if p.onSkipped != nil {
			p.onSkipped(lead.Symbol())
		}
		return nil
	}

	ev := &domain.Event{
		Kind:      kind,
		Amount:    new(big.Int),
		LedgerSeq: raw.LedgerSeq,
		ClosedAt:  raw.ClosedAt.UTC(),
		TxHash:    raw.TxHash,
		Metadata:  map[string]string{},
	}

	var second codec.Value
	if len(raw.Topics) > 1 {
		second = p.dec.Decode(raw.Topics[1])
	}
	payload := p.dec.Decode(raw.Data)
	if payload.IsRaw() {
		// Degraded payload: keep the event with whatever the topics
		// gave us, and preserve the raw bytes in metadata.
		p.logger.Printf("degraded %s payload, keeping raw bytes (tx %s)", kind, raw.TxHash)
		ev.Metadata["raw_payload"] = payload.Str
	}

	switch kind {
	case domain.EventCreate:
		p.parseCreate(ev, second, payload)
	case domain.EventWithdraw:
		p.parseWithdraw(ev, second, payload)
	case domain.EventCancel:
		p.parseCancel(ev, second, payload)
	case domain.EventTransfer:
		p.parseTransfer(ev, second, payload)
	case domain.EventPause:
		p.parsePause(ev, second, payload)
	case domain.EventProposalCreated:
		p.parseProposal(ev, second, payload)
	}

	return ev
}

// parseCreate handles create events. The sender rides on the second
// topic. The canonical payload is the bare stream id; richer historical
// shapes published a map carrying the id, participants and the unlock
// schedule, with the total under "deposit" rather than "amount".
func (p *Parser) parseCreate(ev *domain.Event, second, payload codec.Value) {
	ev.Sender = addressOf(second)
	ev.StreamID = streamIDOf(payload, second)
	ev.Receiver = addressField(payload, "receiver", "to")
	ev.Amount = numberField(payload, "amount", "deposit", nil)

	if token := addressField(payload, "token", "asset"); token != "" {
		ev.Metadata["token"] = token
	}

	start := numberField(payload, "start_time", "startTime", nil)
	cliff := numberField(payload, "cliff_time", "cliffTime", start)
	end := numberField(payload, "end_time", "endTime", nil)
	if end.Sign() == 0 {
		// Computed fallback: some payloads carried a duration instead
		// of an absolute end time.
		if dur := numberField(payload, "duration", "length", nil); dur.Sign() > 0 {
			end = new(big.Int).Add(start, dur)
		}
	}
	ev.Metadata["start_time"] = start.String()
	ev.Metadata["cliff_time"] = cliff.String()
	ev.Metadata["end_time"] = end.String()
}

// parseWithdraw handles withdraw events. The receiver rides on the
// second topic. The payload is either a map or, in the legacy shape,
// a two-element vec of (stream id, amount).
func (p *Parser) parseWithdraw(ev *domain.Event, second, payload codec.Value) {
	ev.Receiver = addressOf(second)

	if payload.Kind == codec.KindVec && len(payload.Vec) >= 2 {
		ev.StreamID = idString(payload.Vec[0])
		ev.Amount = coerceBig(payload.Vec[1], new(big.Int))
		return
	}

	ev.StreamID = streamIDOf(payload, codec.Value{})
	ev.Amount = numberField(payload, "amount", "withdrawn", nil)
}

// parseCancel handles cancel events. The stream id rides on the second
// topic. The payload map carries the authoritative final split: the
// event amount is what was returned to the sender.
func (p *Parser) parseCancel(ev *domain.Event, second, payload codec.Value) {
	ev.StreamID = idString(second)
	if ev.StreamID == "" {
		ev.StreamID = streamIDOf(payload, codec.Value{})
	}
	ev.Sender = addressField(payload, "sender", "from")

	toReceiver := numberField(payload, "to_receiver", "toReceiver", nil)
	toSender := numberField(payload, "to_sender", "toSender", nil)
	if toSender.Sign() == 0 && payload.Kind == codec.KindAddress {
		// Oldest shape: data was just the sender address, no split.
		ev.Sender = payload.Str
	}
	ev.Amount = toSender
	ev.Metadata["to_receiver"] = toReceiver.String()
	ev.Metadata["to_sender"] = toSender.String()
}

// parseTransfer handles receiver reassignment: the stream id rides on
// the second topic and the payload is the new receiver address.
func (p *Parser) parseTransfer(ev *domain.Event, second, payload codec.Value) {
	ev.StreamID = idString(second)
	if payload.Kind == codec.KindAddress {
		ev.Receiver = payload.Str
	} else {
		ev.Receiver = addressField(payload, "receiver", "new_receiver")
	}
}

// parsePause handles contract-wide pause toggles. No stream id; the
// entry is recorded for the audit trail only.
func (p *Parser) parsePause(ev *domain.Event, second, payload codec.Value) {
	ev.Sender = addressOf(second)
	paused := payload.Kind == codec.KindBool && payload.Bool
	ev.Metadata["paused"] = strconv.FormatBool(paused)
}

// parseProposal handles governance proposal creation. Stream id is
// absent by design; the payload map is preserved as metadata.
func (p *Parser) parseProposal(ev *domain.Event, second, payload codec.Value) {
	ev.Sender = addressOf(second)
	if payload.Kind == codec.KindMap {
		for _, e := range payload.Map {
			key := e.Key.Str
			if key == "" {
				continue
			}
			ev.Metadata[key] = flatten(e.Val)
		}
	}
}

// streamIDOf resolves the stream id: "stream_id" key, legacy "id" key,
// the payload itself as a bare id, then the second topic. The canonical
// contract shape publishes the id as the whole payload.
func streamIDOf(payload, second codec.Value) string {
	if v, ok := payload.MapGet("stream_id"); ok {
		return idString(v)
	}
	if v, ok := payload.MapGet("id"); ok {
		return idString(v)
	}
	if payload.Kind != codec.KindMap {
		if id := idString(payload); id != "" {
			return id
		}
	}
	return idString(second)
}

// addressOf extracts an address string from a decoded topic value.
func addressOf(v codec.Value) string {
	if v.Kind == codec.KindAddress {
		return v.Str
	}
	return ""
}

// addressField resolves an address by canonical then legacy key.
func addressField(payload codec.Value, canonical, legacy string) string {
	if v, ok := payload.MapGet(canonical); ok && v.Kind == codec.KindAddress {
		return v.Str
	}
	if v, ok := payload.MapGet(legacy); ok && v.Kind == codec.KindAddress {
		return v.Str
	}
	return ""
}

// numberField resolves a numeric field: canonical key, legacy key,
// computed fallback, then zero.
func numberField(payload codec.Value, canonical, legacy string, fallback *big.Int) *big.Int {
	if v, ok := payload.MapGet(canonical); ok {
		if n, ok := tryBig(v); ok {
			return n
		}
	}
	if v, ok := payload.MapGet(legacy); ok {
		if n, ok := tryBig(v); ok {
			return n
		}
	}
	if fallback != nil {
		return new(big.Int).Set(fallback)
	}
	return new(big.Int)
}

// idString renders a decoded value as a stream id: integers as their
// decimal form, strings and symbols verbatim. Other kinds carry no
// usable identity and yield "".
func idString(v codec.Value) string {
	if n, ok := tryBig(v); ok {
		return n.String()
	}
	switch v.Kind {
	case codec.KindString, codec.KindSymbol:
		return v.Str
	}
	return ""
}

// coerceBig converts a decoded value to an integer, falling back to
// def when the value is not numeric. Accepts every integer width plus
// decimal strings; non-numeric strings fall back rather than failing.
func coerceBig(v codec.Value, def *big.Int) *big.Int {
	if n, ok := tryBig(v); ok {
		return n
	}
	return new(big.Int).Set(def)
}

func tryBig(v codec.Value) (*big.Int, bool) {
	switch v.Kind {
	case codec.KindU32:
		return new(big.Int).SetUint64(uint64(v.U32)), true
	case codec.KindI32:
		return big.NewInt(int64(v.I32)), true
	case codec.KindU64:
		return new(big.Int).SetUint64(v.U64), true
	case codec.KindI64:
		return big.NewInt(v.I64), true
	case codec.KindU128, codec.KindI128, codec.KindU256:
		if v.Big == nil {
			return nil, false
		}
		return new(big.Int).Set(v.Big), true
	case codec.KindString, codec.KindSymbol:
		n, ok := new(big.Int).SetString(v.Str, 10)
		if !ok {
			return nil, false
		}
		return n, true
	default:
		return nil, false
	}
}

// flatten renders a decoded value as a metadata string.
func flatten(v codec.Value) string {
	switch v.Kind {
	case codec.KindString, codec.KindSymbol, codec.KindAddress, codec.KindRaw:
		return v.Str
	case codec.KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		if n, ok := tryBig(v); ok {
			return n.String()
		}
		return ""
	}
}
