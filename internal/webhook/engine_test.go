package webhook_test

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/FilipeBarcellos/integrationm-greenn/internal/webhook"
	"github.com/FilipeBarcellos/integrationm-greenn/pkg/contracts"
	"github.com/FilipeBarcellos/integrationm-greenn/pkg/logging"
)

type refundCall struct {
	orderID string
	amount  int64
	reason  string
}

type fakeStore struct {
	nextID    int
	customers map[string]*webhook.Customer // by email
	byID      map[string]*webhook.Customer
	usernames map[string]bool
	products  map[string]webhook.Product // by name
	orders    []*webhook.Order
	refunds   []refundCall

	findCustomerErr   error
	createCustomerErr error
	createOrderErr    error
	refundErr         error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		customers: map[string]*webhook.Customer{},
		byID:      map[string]*webhook.Customer{},
		usernames: map[string]bool{},
		products:  map[string]webhook.Product{},
	}
}

func (s *fakeStore) addProduct(name string, price int64) {
	s.products[name] = webhook.Product{ID: fmt.Sprintf("prod-%d", len(s.products)+1), Name: name, Price: price}
}

func (s *fakeStore) addCustomer(email, username, firstName string) *webhook.Customer {
	s.nextID++
	c := &webhook.Customer{ID: fmt.Sprintf("cust-%d", s.nextID), Email: email, Username: username, FirstName: firstName}
	s.customers[email] = c
	s.byID[c.ID] = c
	s.usernames[username] = true
	return c
}

func (s *fakeStore) addOrder(email string, status webhook.OrderStatus, total int64, productNames ...string) *webhook.Order {
	o := &webhook.Order{
		ID:           fmt.Sprintf("order-%d", len(s.orders)+1),
		BillingEmail: email,
		Status:       status,
		Total:        total,
	}
	for _, name := range productNames {
		o.Items = append(o.Items, webhook.OrderItem{ProductName: name, Quantity: 1, Price: total})
	}
	s.orders = append(s.orders, o)
	return o
}

func (s *fakeStore) FindCustomerByEmail(ctx context.Context, email string) (*webhook.Customer, error) {
	if s.findCustomerErr != nil {
		return nil, s.findCustomerErr
	}
	c, ok := s.customers[email]
	if !ok {
		return nil, nil
	}
	snapshot := *c
	return &snapshot, nil
}

func (s *fakeStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	return s.usernames[username], nil
}

func (s *fakeStore) CreateCustomer(ctx context.Context, nc webhook.NewCustomer) (string, error) {
	if s.createCustomerErr != nil {
		return "", s.createCustomerErr
	}
	c := s.addCustomer(nc.Email, nc.Username, "")
	return c.ID, nil
}

func (s *fakeStore) UpdateCustomerProfile(ctx context.Context, id, firstName, lastName, displayName string) error {
	c, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("no customer %s", id)
	}
	c.FirstName = firstName
	c.LastName = lastName
	c.DisplayName = displayName
	return nil
}

func (s *fakeStore) GeneratePassword() string {
	return "s3cret-pass"
}

func (s *fakeStore) FindProductByName(ctx context.Context, name string) (*webhook.Product, error) {
	p, ok := s.products[name]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *fakeStore) CreateOrder(ctx context.Context, no webhook.NewOrder) (*webhook.Order, error) {
	if s.createOrderErr != nil {
		return nil, s.createOrderErr
	}
	o := &webhook.Order{
		ID:           fmt.Sprintf("order-%d", len(s.orders)+1),
		CustomerID:   no.CustomerID,
		BillingName:  no.BillingName,
		BillingEmail: no.BillingEmail,
		Status:       no.Status,
		Total:        no.Total,
		Items:        no.Items,
	}
	s.orders = append(s.orders, o)
	snapshot := *o
	return &snapshot, nil
}

func (s *fakeStore) OrdersByBillingEmail(ctx context.Context, email string, statuses []webhook.OrderStatus) ([]webhook.Order, error) {
	wanted := map[webhook.OrderStatus]bool{}
	for _, st := range statuses {
		wanted[st] = true
	}
	var out []webhook.Order
	for _, o := range s.orders {
		if o.BillingEmail == email && wanted[o.Status] {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateRefund(ctx context.Context, orderID string, amount int64, reason string) error {
	if s.refundErr != nil {
		return s.refundErr
	}
	s.refunds = append(s.refunds, refundCall{orderID: orderID, amount: amount, reason: reason})
	return nil
}

func (s *fakeStore) UpdateOrderStatus(ctx context.Context, orderID string, status webhook.OrderStatus) error {
	for _, o := range s.orders {
		if o.ID == orderID {
			o.Status = status
			return nil
		}
	}
	return fmt.Errorf("no order %s", orderID)
}

type mailCall struct {
	email   string
	name    string
	payload string // password or product name
}

type fakeMailer struct {
	welcomes   []mailCall
	available  []mailCall
	welcomeErr error
}

func (m *fakeMailer) SendWelcome(ctx context.Context, email, firstName, password string) error {
	if m.welcomeErr != nil {
		return m.welcomeErr
	}
	m.welcomes = append(m.welcomes, mailCall{email: email, name: firstName, payload: password})
	return nil
}

func (m *fakeMailer) SendProductAvailable(ctx context.Context, email, name, productName string) error {
	m.available = append(m.available, mailCall{email: email, name: name, payload: productName})
	return nil
}

type fakeAuditor struct {
	events []contracts.Event
}

func (a *fakeAuditor) Record(ctx context.Context, evt contracts.Event) error {
	a.events = append(a.events, evt)
	return nil
}

type engineFixture struct {
	store   *fakeStore
	mailer  *fakeMailer
	auditor *fakeAuditor
	logBuf  *bytes.Buffer
	engine  *webhook.Engine
}

func newFixture(rawLogging bool) *engineFixture {
	f := &engineFixture{
		store:   newFakeStore(),
		mailer:  &fakeMailer{},
		auditor: &fakeAuditor{},
		logBuf:  &bytes.Buffer{},
	}
	log := logging.NewWithWriter(logging.Config{Enabled: true, RawEnabled: rawLogging}, f.logBuf)
	f.engine = webhook.NewEngine(f.store, f.mailer, log, f.auditor)
	return f
}

func (f *engineFixture) handle(t *testing.T, body []byte) (int, webhook.Response) {
	t.Helper()
	return f.engine.Handle(context.Background(), body, nil)
}

func saleEvent(email, name, product, status string) []byte {
	return samplePayload(func(p map[string]any) {
		p["client"] = map[string]any{"email": email, "name": name}
		p["product"] = map[string]any{"name": product}
		p["sale"] = map[string]any{"status": status}
	})
}

func TestHandlePaidNewCustomer(t *testing.T) {
	f := newFixture(false)
	f.store.addProduct("Course A", 19900)

	status, resp := f.handle(t, saleEvent("a@b.com", "Jane Doe", "Course A", "paid"))

	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%+v)", status, resp)
	}
	if !resp.Success || resp.Message != "Processed successfully!" {
		t.Errorf("response = %+v", resp)
	}

	cust := f.store.customers["a@b.com"]
	if cust == nil {
		t.Fatal("customer not created")
	}
	if cust.Username != "janedoe" {
		t.Errorf("username = %q, want %q", cust.Username, "janedoe")
	}
	if cust.FirstName != "Jane" || cust.LastName != "Doe" || cust.DisplayName != "Jane Doe" {
		t.Errorf("profile = %+v", cust)
	}

	if len(f.mailer.welcomes) != 1 {
		t.Fatalf("welcomes = %d, want 1", len(f.mailer.welcomes))
	}
	w := f.mailer.welcomes[0]
	if w.email != "a@b.com" || w.name != "Jane" || w.payload != "s3cret-pass" {
		t.Errorf("welcome = %+v", w)
	}
	if len(f.mailer.available) != 0 {
		t.Errorf("product-available sent for new customer")
	}

	if len(f.store.orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(f.store.orders))
	}
	o := f.store.orders[0]
	if o.Status != webhook.OrderCompleted || o.Total != 19900 || o.BillingEmail != "a@b.com" {
		t.Errorf("order = %+v", o)
	}
	if len(o.Items) != 1 || o.Items[0].ProductName != "Course A" || o.Items[0].Quantity != 1 {
		t.Errorf("items = %+v", o.Items)
	}

	types := auditTypes(f.auditor)
	if !types[contracts.EventCustomerCreated] || !types[contracts.EventOrderCompleted] {
		t.Errorf("audit events = %v", types)
	}
}

func TestHandlePaidExistingCustomer(t *testing.T) {
	f := newFixture(false)
	f.store.addProduct("Course A", 19900)
	f.store.addCustomer("a@b.com", "janedoe", "Jane")

	status, _ := f.handle(t, saleEvent("a@b.com", "Jane Doe", "Course A", "paid"))

	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if len(f.store.customers) != 1 {
		t.Errorf("customers = %d, want 1 (no re-provisioning on replay)", len(f.store.customers))
	}
	if len(f.mailer.welcomes) != 0 {
		t.Errorf("welcome sent to existing customer")
	}
	if len(f.mailer.available) != 1 {
		t.Fatalf("available = %d, want 1", len(f.mailer.available))
	}
	a := f.mailer.available[0]
	if a.email != "a@b.com" || a.name != "Jane" || a.payload != "Course A" {
		t.Errorf("available = %+v", a)
	}
	if len(f.store.orders) != 1 {
		t.Errorf("orders = %d, want 1", len(f.store.orders))
	}
}

func TestHandlePaidReplay(t *testing.T) {
	f := newFixture(false)
	f.store.addProduct("Course A", 19900)

	body := saleEvent("a@b.com", "Jane Doe", "Course A", "paid")
	if status, _ := f.handle(t, body); status != http.StatusOK {
		t.Fatal("first delivery failed")
	}
	if status, _ := f.handle(t, body); status != http.StatusOK {
		t.Fatal("replayed delivery failed")
	}

	if len(f.store.customers) != 1 {
		t.Errorf("customers = %d, want 1", len(f.store.customers))
	}
	if len(f.store.orders) != 2 {
		t.Errorf("orders = %d, want 2 (replay is not deduplicated)", len(f.store.orders))
	}
	if len(f.mailer.welcomes) != 1 {
		t.Errorf("welcomes = %d, want exactly 1", len(f.mailer.welcomes))
	}
}

func TestHandlePaidUsernameCollision(t *testing.T) {
	f := newFixture(false)
	f.store.addProduct("Course A", 100)
	f.store.addCustomer("other@b.com", "johndoe", "John")

	if status, _ := f.handle(t, saleEvent("john@b.com", "John Doe", "Course A", "paid")); status != http.StatusOK {
		t.Fatal("delivery failed")
	}
	if got := f.store.customers["john@b.com"].Username; got != "johndoe1" {
		t.Errorf("username = %q, want %q", got, "johndoe1")
	}

	if status, _ := f.handle(t, saleEvent("john2@b.com", "John Doe", "Course A", "paid")); status != http.StatusOK {
		t.Fatal("delivery failed")
	}
	if got := f.store.customers["john2@b.com"].Username; got != "johndoe2" {
		t.Errorf("username = %q, want %q", got, "johndoe2")
	}
}

func TestHandlePaidProductNotFound(t *testing.T) {
	f := newFixture(false)

	status, resp := f.handle(t, saleEvent("a@b.com", "Jane Doe", "Ghost Course", "paid"))

	if status != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", status)
	}
	if resp.Message != "Failed to create order" {
		t.Errorf("message = %q", resp.Message)
	}
	// The freshly created account is not rolled back.
	if f.store.customers["a@b.com"] == nil {
		t.Error("orphaned account should remain after order failure")
	}
	if !strings.Contains(f.logBuf.String(), "Product not found: Ghost Course") {
		t.Errorf("log missing product-not-found entry: %s", f.logBuf.String())
	}
}

func TestHandlePaidCreateUserFailure(t *testing.T) {
	f := newFixture(false)
	f.store.addProduct("Course A", 100)
	f.store.createCustomerErr = fmt.Errorf("unique violation")

	status, resp := f.handle(t, saleEvent("a@b.com", "Jane Doe", "Course A", "paid"))

	if status != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", status)
	}
	if resp.Message != "Failed to create user" {
		t.Errorf("message = %q", resp.Message)
	}
	if len(f.store.orders) != 0 {
		t.Errorf("order created despite user failure")
	}
	if !strings.Contains(f.logBuf.String(), "Error creating user") {
		t.Errorf("log missing create-user entry: %s", f.logBuf.String())
	}
}

func TestHandleWelcomeFailureDoesNotBlock(t *testing.T) {
	f := newFixture(false)
	f.store.addProduct("Course A", 100)
	f.mailer.welcomeErr = fmt.Errorf("smtp down")

	status, _ := f.handle(t, saleEvent("a@b.com", "Jane Doe", "Course A", "paid"))

	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200 (delivery failure never blocks)", status)
	}
	if len(f.store.orders) != 1 {
		t.Errorf("orders = %d, want 1", len(f.store.orders))
	}
	if !strings.Contains(f.logBuf.String(), "Error sending welcome email") {
		t.Errorf("log missing welcome failure: %s", f.logBuf.String())
	}
}

func TestHandleUnknownStatus(t *testing.T) {
	f := newFixture(false)

	status, resp := f.handle(t, saleEvent("a@b.com", "Jane Doe", "Course A", "pix_pending"))

	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if resp.Message != "Evento desconhecido" {
		t.Errorf("message = %q", resp.Message)
	}
	if !strings.Contains(f.logBuf.String(), "Evento desconhecido: pix_pending") {
		t.Errorf("log = %s", f.logBuf.String())
	}
}

func TestHandleRefundNoOrders(t *testing.T) {
	f := newFixture(false)

	status, resp := f.handle(t, saleEvent("a@b.com", "Jane Doe", "Course A", "refunded"))

	if status != http.StatusOK || !resp.Success {
		t.Fatalf("unmatched refund must still be accepted, got %d %+v", status, resp)
	}
	if !strings.Contains(f.logBuf.String(), "Nenhum pedido encontrado para reembolso para o e-mail: a@b.com e produto: Course A") {
		t.Errorf("log = %s", f.logBuf.String())
	}
	if !auditTypes(f.auditor)[contracts.EventRefundUnmatched] {
		t.Errorf("audit events = %v", auditTypes(f.auditor))
	}
}

func TestHandleRefundAllMatches(t *testing.T) {
	f := newFixture(false)
	f.store.addOrder("a@b.com", webhook.OrderCompleted, 100, "Course A")
	f.store.addOrder("a@b.com", webhook.OrderProcessing, 150, "Course A")
	f.store.addOrder("a@b.com", webhook.OrderCompleted, 200, "Course B")
	f.store.addOrder("other@b.com", webhook.OrderCompleted, 300, "Course A")

	status, _ := f.handle(t, saleEvent("a@b.com", "Jane Doe", "Course A", "chargedback"))

	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if len(f.store.refunds) != 2 {
		t.Fatalf("refunds = %d, want 2 (all matches refunded)", len(f.store.refunds))
	}
	if f.store.refunds[0].amount != 100 || f.store.refunds[1].amount != 150 {
		t.Errorf("refund amounts = %+v (full order totals expected)", f.store.refunds)
	}
	for _, r := range f.store.refunds {
		if r.reason != "Reembolso automático pela integração Greenn" {
			t.Errorf("reason = %q", r.reason)
		}
	}
	if f.store.orders[0].Status != webhook.OrderRefunded || f.store.orders[1].Status != webhook.OrderRefunded {
		t.Errorf("matched orders not refunded: %+v", f.store.orders)
	}
	if f.store.orders[2].Status != webhook.OrderCompleted || f.store.orders[3].Status != webhook.OrderCompleted {
		t.Errorf("unmatched orders must not change: %+v", f.store.orders)
	}
}

func TestHandlePaidLookupFailure(t *testing.T) {
	f := newFixture(false)
	f.store.addProduct("Course A", 100)
	f.store.findCustomerErr = fmt.Errorf("connection refused")

	status, resp := f.handle(t, saleEvent("a@b.com", "Jane Doe", "Course A", "paid"))

	if status != http.StatusInternalServerError || resp.Message != "Failed to create user" {
		t.Fatalf("got %d %+v", status, resp)
	}
	if len(f.store.orders) != 0 {
		t.Errorf("order created despite lookup failure")
	}
}

func TestHandleRefundCreateFailure(t *testing.T) {
	f := newFixture(false)
	f.store.addOrder("a@b.com", webhook.OrderCompleted, 100, "Course A")
	f.store.refundErr = fmt.Errorf("store rejected refund")

	status, resp := f.handle(t, saleEvent("a@b.com", "Jane Doe", "Course A", "refunded"))

	if status != http.StatusOK || !resp.Success {
		t.Fatalf("refund store failure must not fail the delivery, got %d %+v", status, resp)
	}
	if f.store.orders[0].Status != webhook.OrderCompleted {
		t.Errorf("order status changed despite refund failure: %+v", f.store.orders[0])
	}
	if !strings.Contains(f.logBuf.String(), "Error creating refund") {
		t.Errorf("log = %s", f.logBuf.String())
	}
}

func TestHandleValidationHasNoSideEffects(t *testing.T) {
	f := newFixture(false)
	f.store.addProduct("Course A", 100)

	status, resp := f.handle(t, samplePayload(func(p map[string]any) { delete(p, "sale") }))

	if status != http.StatusBadRequest || resp.Message != "Missing data: sale" {
		t.Fatalf("got %d %+v", status, resp)
	}
	if len(f.store.customers) != 0 || len(f.store.orders) != 0 {
		t.Errorf("validation failure must not touch the store")
	}
	if len(f.auditor.events) != 0 {
		t.Errorf("validation failure must not emit audit events")
	}
}

func TestHandleRawLogging(t *testing.T) {
	body := samplePayload(func(p map[string]any) { delete(p, "client") })

	t.Run("enabled logs before validation", func(t *testing.T) {
		f := newFixture(true)
		f.handle(t, body)
		if !strings.Contains(f.logBuf.String(), "Dados brutos recebidos: ") {
			t.Errorf("raw payload not logged: %s", f.logBuf.String())
		}
	})

	t.Run("disabled stays silent", func(t *testing.T) {
		f := newFixture(false)
		f.handle(t, body)
		if strings.Contains(f.logBuf.String(), "Dados brutos recebidos") {
			t.Errorf("raw payload logged without opt-in: %s", f.logBuf.String())
		}
	})
}

func auditTypes(a *fakeAuditor) map[string]bool {
	out := map[string]bool{}
	for _, evt := range a.events {
		out[evt.Type] = true
	}
	return out
}
