//go:build integration

package test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/apperr"
	"github.com/joao-fontenele/storefront/internal/cart"
	"github.com/joao-fontenele/storefront/internal/catalog"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/messaging"
	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/outbox"
	"github.com/joao-fontenele/storefront/internal/payment"
	"github.com/joao-fontenele/storefront/internal/paysim"
	"github.com/joao-fontenele/storefront/internal/pricing"
	"github.com/joao-fontenele/storefront/internal/worker"
)

const (
	testTopic     = "store.orders.test"
	keyID         = "rzp_test_key"
	keySecret     = "key-secret"
	webhookSecret = "webhook-secret"
)

var (
	buyer   = domain.Actor{UserID: "buyer-1", Role: domain.RoleCustomer}
	admin   = domain.Actor{UserID: "admin-1", Role: domain.RoleAdmin}
	address = &domain.Address{
		FullName:   "Aisha Khan",
		Line1:      "12 Market Road",
		City:       "Hyderabad",
		PostalCode: "500001",
		Country:    "IN",
		Email:      "aisha@example.com",
	}
)

type noCarts struct{}

func (noCarts) Lines(context.Context, string) ([]domain.CartLine, *time.Time, error) {
	return nil, nil, nil
}
func (noCarts) Clear(context.Context, string) error { return nil }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newOrderService(db *sql.DB, carts orders.Carts, gatewayURL string) *orders.Service {
	return orders.NewService(
		orders.NewOrderRepository(db, testTopic),
		carts,
		payment.NewClient(gatewayURL, keyID, keySecret, 5*time.Second),
		orders.Config{Pricing: pricing.DefaultRules(), KeySecret: keySecret, WebhookSecret: webhookSecret},
		discard(),
	)
}

func stockOf(ctx context.Context, t *testing.T, db *sql.DB, id string) int {
	t.Helper()
	p, err := catalog.NewRepository(db).Get(ctx, id)
	if err != nil || p == nil {
		t.Fatalf("failed to load product %s: %v", id, err)
	}
	return p.Stock.Quantity
}

func countRows(ctx context.Context, t *testing.T, db *sql.DB, query string) int {
	t.Helper()
	var n int
	if err := db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	return n
}

func TestCheckoutPersistsOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db := SetupPostgres(ctx, t)
	svc := newOrderService(db, noCarts{}, "http://unused")

	order, err := svc.Checkout(ctx, buyer, orders.CheckoutRequest{
		Items: []orders.LineRequest{
			{ProductID: "ITEM-001", Quantity: 2},
			{ProductID: "ITEM-004", Quantity: 1},
		},
		ShippingAddress: address,
		PaymentMethod:   domain.PaymentMethodCashOnDelivery,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	// 2*349 + 250 = 948 ships free, plus 5% tax.
	if got := order.Pricing.Total.StringFixed(2); got != "995.40" {
		t.Errorf("expected total 995.40, got %s", got)
	}

	stored, err := svc.Get(ctx, buyer, order.ID)
	if err != nil {
		t.Fatalf("failed to reload order: %v", err)
	}
	if stored.Number != order.Number || len(stored.Items) != 2 || len(stored.Timeline) != 1 {
		t.Fatalf("unexpected stored order: %+v", stored)
	}
	if stored.BillingAddress.City != "Hyderabad" {
		t.Errorf("expected billing address to default to shipping, got %+v", stored.BillingAddress)
	}

	if got := stockOf(ctx, t, db, "ITEM-001"); got != 98 {
		t.Errorf("expected ITEM-001 stock 98, got %d", got)
	}
	if got := stockOf(ctx, t, db, "ITEM-004"); got != 0 {
		t.Errorf("expected untracked ITEM-004 stock untouched, got %d", got)
	}
	if n := countRows(ctx, t, db, "SELECT COUNT(*) FROM outbox WHERE sent_at IS NULL"); n != 1 {
		t.Errorf("expected 1 pending outbox event, got %d", n)
	}
}

func TestPriceChangeLeavesPlacedOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db := SetupPostgres(ctx, t)
	svc := newOrderService(db, noCarts{}, "http://unused")

	order, err := svc.Checkout(ctx, buyer, orders.CheckoutRequest{
		Items:           []orders.LineRequest{{ProductID: "ITEM-003", Quantity: 1}},
		ShippingAddress: address,
		PaymentMethod:   domain.PaymentMethodCashOnDelivery,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	products := catalog.NewRepository(db)
	p, err := products.Get(ctx, "ITEM-003")
	if err != nil || p == nil {
		t.Fatalf("failed to load product: %v", err)
	}
	p.Price = decimal.RequireFromString("1299.00")
	if err := products.Update(ctx, p); err != nil {
		t.Fatalf("price update failed: %v", err)
	}

	stored, err := svc.Get(ctx, buyer, order.ID)
	if err != nil {
		t.Fatalf("failed to reload order: %v", err)
	}
	if got := stored.Items[0].UnitPrice.StringFixed(2); got != "899.00" {
		t.Errorf("expected snapshotted unit price 899.00, got %s", got)
	}
	if !stored.Pricing.Total.Equal(order.Pricing.Total) {
		t.Errorf("expected total %s to be unchanged, got %s", order.Pricing.Total, stored.Pricing.Total)
	}

	if got, _ := products.Get(ctx, "ITEM-003"); got.Price.StringFixed(2) != "1299.00" {
		t.Errorf("expected live price 1299.00, got %s", got.Price)
	}
	if err := products.Update(ctx, &domain.Product{ID: "missing"}); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown product, got %v", err)
	}
}

func TestCheckoutRollsBackOnInsufficientStock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db := SetupPostgres(ctx, t)
	svc := newOrderService(db, noCarts{}, "http://unused")

	_, err := svc.Checkout(ctx, buyer, orders.CheckoutRequest{
		Items: []orders.LineRequest{
			{ProductID: "ITEM-001", Quantity: 1},
			{ProductID: "ITEM-002", Quantity: 5},
		},
		ShippingAddress: address,
	})
	if !apperr.Is(err, apperr.KindInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	if got := stockOf(ctx, t, db, "ITEM-001"); got != 100 {
		t.Errorf("expected ITEM-001 decrement rolled back, got %d", got)
	}
	if n := countRows(ctx, t, db, "SELECT COUNT(*) FROM orders"); n != 0 {
		t.Errorf("expected no orders, got %d", n)
	}
	if n := countRows(ctx, t, db, "SELECT COUNT(*) FROM outbox"); n != 0 {
		t.Errorf("expected no outbox events, got %d", n)
	}
}

func TestConcurrentCheckoutDoesNotOversell(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db := SetupPostgres(ctx, t)
	svc := newOrderService(db, noCarts{}, "http://unused")

	const buyers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := range buyers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := domain.Actor{UserID: "buyer-" + string(rune('a'+i)), Role: domain.RoleCustomer}
			_, err := svc.Checkout(ctx, actor, orders.CheckoutRequest{
				Items:           []orders.LineRequest{{ProductID: "ITEM-002", Quantity: 1}},
				ShippingAddress: address,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case apperr.Is(err, apperr.KindInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected checkout error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 3 || rejected != buyers-3 {
		t.Fatalf("expected 3 orders and %d rejections, got %d and %d", buyers-3, succeeded, rejected)
	}
	if got := stockOf(ctx, t, db, "ITEM-002"); got != 0 {
		t.Errorf("expected ITEM-002 stock 0, got %d", got)
	}
}

func TestIdempotentCheckout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db := SetupPostgres(ctx, t)
	svc := newOrderService(db, noCarts{}, "http://unused")

	req := orders.CheckoutRequest{
		Items:           []orders.LineRequest{{ProductID: "ITEM-001", Quantity: 1}},
		ShippingAddress: address,
		IdempotencyKey:  "retry-1",
	}
	first, err := svc.Checkout(ctx, buyer, req)
	if err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}
	second, err := svc.Checkout(ctx, buyer, req)
	if err != nil {
		t.Fatalf("replayed checkout failed: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("expected replay to return order %s, got %s", first.ID, second.ID)
	}
	if got := stockOf(ctx, t, db, "ITEM-001"); got != 99 {
		t.Errorf("expected a single decrement, got stock %d", got)
	}
}

func TestGatewayPaymentAndWebhook(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db := SetupPostgres(ctx, t)

	var svc *orders.Service
	storefront := http.NewServeMux()
	storefrontSrv := httptest.NewServer(storefront)
	defer storefrontSrv.Close()

	sim := paysim.NewServer(paysim.Config{
		KeyID:         keyID,
		KeySecret:     keySecret,
		WebhookURL:    storefrontSrv.URL + "/payments/webhook",
		WebhookSecret: webhookSecret,
	}, http.DefaultClient, discard())
	simMux := http.NewServeMux()
	sim.Register(simMux)
	simSrv := httptest.NewServer(simMux)
	defer simSrv.Close()

	svc = newOrderService(db, noCarts{}, simSrv.URL)
	orders.NewHandler(svc, discard()).Register(storefront)

	order, err := svc.Checkout(ctx, buyer, orders.CheckoutRequest{
		Items:           []orders.LineRequest{{ProductID: "ITEM-003", Quantity: 1}},
		ShippingAddress: address,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	intent, err := svc.InitiatePayment(ctx, buyer, order.ID)
	if err != nil {
		t.Fatalf("initiate payment failed: %v", err)
	}

	resp, err := http.Post(simSrv.URL+"/v1/orders/"+intent.IntentID+"/pay", "application/json", nil)
	if err != nil {
		t.Fatalf("pay failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var paid paysim.PayResult
	if err := json.NewDecoder(resp.Body).Decode(&paid); err != nil {
		t.Fatalf("failed to decode pay result: %v", err)
	}

	confirmed, err := svc.Get(ctx, buyer, order.ID)
	if err != nil {
		t.Fatalf("failed to reload order: %v", err)
	}
	if confirmed.Status != domain.OrderStatusConfirmed || confirmed.Payment.Status != domain.PaymentStatusPaid {
		t.Fatalf("expected webhook to confirm the order, got %s/%s", confirmed.Status, confirmed.Payment.Status)
	}
	if confirmed.Payment.TransactionID != paid.PaymentID {
		t.Errorf("expected transaction %s, got %s", paid.PaymentID, confirmed.Payment.TransactionID)
	}

	_, err = svc.VerifyPayment(ctx, buyer, order.ID, orders.VerifyRequest{
		IntentID:  paid.IntentID,
		PaymentID: paid.PaymentID,
		Signature: paid.Signature,
	})
	if !apperr.Is(err, apperr.KindPaymentAlreadyProcessed) {
		t.Errorf("expected second confirmation to be rejected, got %v", err)
	}
}

func TestCancelRestoresStock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db := SetupPostgres(ctx, t)
	svc := newOrderService(db, noCarts{}, "http://unused")

	order, err := svc.Checkout(ctx, buyer, orders.CheckoutRequest{
		Items:           []orders.LineRequest{{ProductID: "ITEM-002", Quantity: 3}},
		ShippingAddress: address,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if got := stockOf(ctx, t, db, "ITEM-002"); got != 0 {
		t.Fatalf("expected stock 0 after checkout, got %d", got)
	}

	cancelled, err := svc.Cancel(ctx, buyer, order.ID, "")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled || cancelled.Cancellation == nil {
		t.Fatalf("unexpected cancelled order: %+v", cancelled)
	}
	if got := stockOf(ctx, t, db, "ITEM-002"); got != 3 {
		t.Errorf("expected stock restored to 3, got %d", got)
	}

	if _, err := svc.UpdateStatus(ctx, admin, order.ID, orders.StatusUpdate{Status: domain.OrderStatusShipped}); !apperr.Is(err, apperr.KindInvalidStateTransition) {
		t.Errorf("expected cancelled order to stay terminal, got %v", err)
	}
	if n := countRows(ctx, t, db, "SELECT COUNT(*) FROM order_timeline"); n != 2 {
		t.Errorf("expected 2 timeline entries, got %d", n)
	}
}

func TestStatusLifecycleVersioning(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db := SetupPostgres(ctx, t)
	svc := newOrderService(db, noCarts{}, "http://unused")

	order, err := svc.Checkout(ctx, buyer, orders.CheckoutRequest{
		Items:           []orders.LineRequest{{ProductID: "ITEM-001", Quantity: 1}},
		ShippingAddress: address,
		PaymentMethod:   domain.PaymentMethodCashOnDelivery,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	for _, status := range []domain.OrderStatus{domain.OrderStatusConfirmed, domain.OrderStatusShipped, domain.OrderStatusDelivered} {
		if _, err := svc.UpdateStatus(ctx, admin, order.ID, orders.StatusUpdate{Status: status}); err != nil {
			t.Fatalf("update to %s failed: %v", status, err)
		}
	}

	final, err := svc.Get(ctx, admin, order.ID)
	if err != nil {
		t.Fatalf("failed to reload order: %v", err)
	}
	if final.Status != domain.OrderStatusDelivered || len(final.Timeline) != 4 {
		t.Fatalf("expected delivered with 4 timeline entries, got %s with %d", final.Status, len(final.Timeline))
	}
	if final.Tracking == nil || final.Tracking.Carrier != "Standard Shipping" {
		t.Errorf("expected default tracking, got %+v", final.Tracking)
	}
	if final.Version != order.Version+3 {
		t.Errorf("expected version bumped 3 times from %d, got %d", order.Version, final.Version)
	}
}

func TestCartStoreAndCheckoutFromCart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db := SetupPostgres(ctx, t)
	rdb := SetupRedis(ctx, t)

	store := cart.NewRedisStore(rdb, time.Hour)
	carts := cart.NewService(store, catalog.NewRepository(db), discard())

	if _, err := carts.Add(ctx, buyer, "ITEM-001", 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	c, err := carts.Add(ctx, buyer, "ITEM-003", 1)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if c.ItemCount != 3 || c.Total.StringFixed(2) != "1597.00" {
		t.Fatalf("unexpected cart: count %d total %s", c.ItemCount, c.Total)
	}
	if c.ExpiresAt == nil {
		t.Error("expected cart expiry to be reported")
	}
	if ttl := rdb.TTL(ctx, "cart:"+buyer.UserID).Val(); ttl <= 0 || ttl > time.Hour {
		t.Errorf("expected ttl within an hour, got %s", ttl)
	}

	svc := newOrderService(db, store, "http://unused")
	order, err := svc.CheckoutFromCart(ctx, buyer, orders.CheckoutRequest{
		ShippingAddress: address,
		PaymentMethod:   domain.PaymentMethodCashOnDelivery,
	})
	if err != nil {
		t.Fatalf("checkout from cart failed: %v", err)
	}
	if len(order.Items) != 2 {
		t.Errorf("expected 2 order lines, got %d", len(order.Items))
	}

	lines, _, err := store.Lines(ctx, buyer.UserID)
	if err != nil {
		t.Fatalf("failed to read cart: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("expected cart cleared after checkout, got %d lines", len(lines))
	}
	if n := rdb.Exists(ctx, "cart:"+buyer.UserID, "cart:"+buyer.UserID+":added").Val(); n != 0 {
		t.Errorf("expected cart keys removed, %d remain", n)
	}
}

func TestOutboxRelayToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	db := SetupPostgres(ctx, t)
	brokers := SetupKafka(ctx, t)

	svc := newOrderService(db, noCarts{}, "http://unused")
	order, err := svc.Checkout(ctx, buyer, orders.CheckoutRequest{
		Items:           []orders.LineRequest{{ProductID: "ITEM-001", Quantity: 1}},
		ShippingAddress: address,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	producer := messaging.NewProducer(brokers)
	defer func() { _ = producer.Close() }()
	relay := outbox.NewRelay(outbox.NewPostgresQueue(db), producer, time.Second, discard())

	// The first write can fail while the topic is auto-created.
	deadline := time.Now().Add(time.Minute)
	for {
		n, err := relay.RelayOnce(ctx)
		if err == nil && n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("relay did not publish: sent %d, err %v", n, err)
		}
		time.Sleep(time.Second)
	}

	if n := countRows(ctx, t, db, "SELECT COUNT(*) FROM outbox WHERE sent_at IS NULL"); n != 0 {
		t.Errorf("expected outbox drained, %d pending", n)
	}

	consumer := messaging.NewConsumer(brokers, testTopic, "integration-test", messaging.WithStartOffset(kafka.FirstOffset))
	defer func() { _ = consumer.Close() }()

	type received struct {
		delivery messaging.Delivery
		event    domain.OrderEvent
	}
	got := make(chan received, 1)
	consumeCtx, stopConsume := context.WithCancel(ctx)
	defer stopConsume()
	go func() {
		_ = consumer.Consume(consumeCtx, func(_ context.Context, d messaging.Delivery) error {
			var e domain.OrderEvent
			if err := json.Unmarshal(d.Value, &e); err != nil {
				return err
			}
			got <- received{delivery: d, event: e}
			stopConsume()
			return nil
		})
	}()

	select {
	case r := <-got:
		if r.event.Type != domain.EventOrderCreated || r.event.OrderID != order.ID {
			t.Errorf("unexpected event: %+v", r.event)
		}
		if r.delivery.EventID == "" || r.delivery.EventID != r.event.EventID {
			t.Errorf("expected event_id header %q to match payload %q", r.delivery.EventID, r.event.EventID)
		}
		if r.delivery.Key != order.ID {
			t.Errorf("expected message keyed by order id, got %q", r.delivery.Key)
		}
	case <-time.After(time.Minute):
		t.Fatal("timed out waiting for order event")
	}
}

func TestRedisDeduper(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	d := worker.NewRedisDeduper(SetupRedis(ctx, t), time.Hour)

	first, err := d.Claim(ctx, "evt-1")
	if err != nil || !first {
		t.Fatalf("expected first claim to win, got %v %v", first, err)
	}
	again, err := d.Claim(ctx, "evt-1")
	if err != nil || again {
		t.Fatalf("expected second claim to lose, got %v %v", again, err)
	}

	if err := d.Release(ctx, "evt-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if retry, _ := d.Claim(ctx, "evt-1"); !retry {
		t.Error("expected claim to succeed after release")
	}
}
