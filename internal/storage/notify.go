package storage

import "sync"

// Notifier fans committed changes out to subscriptions. Publish never blocks:
// every subscription buffers its backlog until the reader catches up.
type Notifier struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a new subscription. Callers must Close it.
func (n *Notifier) Subscribe() *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	s := &Subscription{
		id:       n.nextID,
		notifier: n,
		ch:       make(chan Change),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	n.subs[s.id] = s
	go s.pump()
	return s
}

func (n *Notifier) Publish(c Change) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, s := range n.subs {
		s.enqueue(c)
	}
}

// Len returns the number of live subscriptions.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// Close releases every subscription.
func (n *Notifier) Close() {
	n.mu.Lock()
	subs := n.subs
	n.subs = make(map[uint64]*Subscription)
	n.mu.Unlock()
	for _, s := range subs {
		s.stop()
	}
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	delete(n.subs, id)
	n.mu.Unlock()
}

// Subscription delivers changes in commit order on C.
type Subscription struct {
	id       uint64
	notifier *Notifier
	ch       chan Change

	mu     sync.Mutex
	queue  []Change
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

// C is closed after Close.
func (s *Subscription) C() <-chan Change { return s.ch }

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.notifier.remove(s.id)
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) enqueue(c Change) {
	s.mu.Lock()
	s.queue = append(s.queue, c)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		next := s.queue[0]
		s.queue[0] = Change{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.ch <- next:
		case <-s.done:
			return
		}
	}
}
