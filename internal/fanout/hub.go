// Package fanout delivers stream notifications to interested
// subscribers keyed by address. Delivery is best-effort: a subscriber
// that cannot keep up loses messages rather than stalling the
// projector.
package fanout

import (
	"log"
	"os"
	"sync"
	"time"

	"stellar-stream-indexer/internal/domain"
	"stellar-stream-indexer/internal/observability"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 64

// Subscription is one registered listener. C carries notifications for
// every address the subscription was registered under.
type Subscription struct {
	C chan domain.Notification

	id        uint64
	addresses []string
}

// Hub routes notifications to subscribers by address.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	// address -> subscription id -> subscription
	byAddress map[string]map[uint64]*Subscription
	total     int
	bufSize   int
	logger    *log.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		byAddress: make(map[string]map[uint64]*Subscription),
		bufSize:   DefaultBufferSize,
		logger:    log.New(os.Stdout, "[fanout] ", log.LstdFlags|log.Lshortfile),
	}
}

// Subscribe registers a listener for one or more addresses. Empty
// address strings are rejected; with no usable address Subscribe
// returns nil. The returned subscription must be released with
// Unsubscribe.
func (h *Hub) Subscribe(addresses ...string) *Subscription {
	valid := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if addr != "" {
			valid = append(valid, addr)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		C:         make(chan domain.Notification, h.bufSize),
		id:        h.nextID,
		addresses: valid,
	}
	for _, addr := range valid {
		m, ok := h.byAddress[addr]
		if !ok {
			m = make(map[uint64]*Subscription)
			h.byAddress[addr] = m
		}
		m[sub.id] = sub
	}
	h.total++
	observability.UpdateSubscriberCount(h.total)
	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := false
	for _, addr := range sub.addresses {
		if m, ok := h.byAddress[addr]; ok {
			if _, present := m[sub.id]; present {
				delete(m, sub.id)
				removed = true
			}
			if len(m) == 0 {
				delete(h.byAddress, addr)
			}
		}
	}
	if removed {
		h.total--
		observability.UpdateSubscriberCount(h.total)
		close(sub.C)
	}
}

// NotifyStream publishes a lifecycle notification to the stream's
// sender and receiver, a balance notification to the receiver, and,
// for transfers, the lifecycle notification to the displaced receiver.
// Implements the projector's post-commit notification hook.
func (h *Hub) NotifyStream(st *domain.StreamState, kind domain.EventKind, displaced string, at time.Time) {
	if st == nil {
		return
	}

	sn := domain.Notification{
		Type: domain.NotifyStream,
		Stream: &domain.StreamNotification{
			StreamID: st.ID,
			Sender:   st.Sender,
			Receiver: st.Receiver,
			Amount:   amountString(st),
			Status:   st.Status,
			At:       at,
		},
	}
	h.publish(st.Sender, sn)
	if st.Receiver != st.Sender {
		h.publish(st.Receiver, sn)
	}
	if displaced != "" && displaced != st.Sender && displaced != st.Receiver {
		h.publish(displaced, sn)
	}

	if kind == domain.EventWithdraw {
		h.publish(st.Receiver, domain.Notification{
			Type: domain.NotifyBalance,
			Balance: &domain.BalanceNotification{
				Address: st.Receiver,
				Amount:  withdrawnString(st),
				At:      at,
			},
		})
	}
}

// publish delivers to every subscriber of one address without
// blocking. Full channels drop the message.
func (h *Hub) publish(address string, n domain.Notification) {
	if address == "" {
		return
	}

	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send. They never block, so the hold is short.
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.byAddress[address] {
		select {
		case sub.C <- n:
			observability.RecordNotificationPublished()
		default:
			observability.RecordNotificationDropped()
			h.logger.Printf("dropped %s notification for %s: subscriber full", n.Type, address)
		}
	}
}

func amountString(st *domain.StreamState) string {
	if st.TotalAmount == nil {
		return "0"
	}
	return st.TotalAmount.String()
}

func withdrawnString(st *domain.StreamState) string {
	if st.WithdrawnAmount == nil {
		return "0"
	}
	return st.WithdrawnAmount.String()
}
