package checkout

import (
	"context"
	"sync"

	"github.com/sokoline/storefront/internal/domain/notify"
	domorder "github.com/sokoline/storefront/internal/domain/order"
	dompayment "github.com/sokoline/storefront/internal/domain/payment"
)

// mockInitiator implements payment.Initiator for testing.
type mockInitiator struct {
	calls  int
	got    dompayment.InitiateRequest
	handle *dompayment.TrackingHandle
	err    error
}

func (m *mockInitiator) Initiate(_ context.Context, req dompayment.InitiateRequest) (*dompayment.TrackingHandle, error) {
	m.calls++
	m.got = req
	if m.err != nil {
		return nil, m.err
	}
	return m.handle, nil
}

// mockProber returns scripted responses in order, repeating the last one once
// the script is exhausted.
type mockProber struct {
	calls    int
	payloads []*dompayment.StatusPayload
	errs     []error
}

func (m *mockProber) Query(_ context.Context, _ string) (*dompayment.StatusPayload, error) {
	i := m.calls
	m.calls++
	if i >= len(m.payloads) {
		i = len(m.payloads) - 1
	}
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	return m.payloads[i], nil
}

// mockRecorder implements OrderRecorder, capturing the order it receives.
type mockRecorder struct {
	calls    int
	got      *domorder.Order
	id       string
	replayed bool
	err      error
}

func (m *mockRecorder) Record(_ context.Context, ord *domorder.Order) (string, bool, error) {
	m.calls++
	m.got = ord
	if m.err != nil {
		return "", false, m.err
	}
	return m.id, m.replayed, nil
}

type adjustCall struct {
	productID string
	quantity  int
}

// mockAdjuster implements StockAdjuster; failOn names a product whose
// adjustment fails.
type mockAdjuster struct {
	calls  []adjustCall
	failOn string
	err    error
}

func (m *mockAdjuster) Adjust(_ context.Context, productID string, quantity int) (int, error) {
	m.calls = append(m.calls, adjustCall{productID: productID, quantity: quantity})
	if m.failOn != "" && productID == m.failOn {
		return 0, m.err
	}
	return 100 - quantity, nil
}

// mockNotifier implements notify.Publisher.
type mockNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (m *mockNotifier) Publish(_ context.Context, e notify.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
