package memory

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/code-payments/flipchat-iap/iap/google"
	"github.com/code-payments/flipchat-iap/model"
	"github.com/code-payments/flipchat-iap/native"
)

var ErrNotConnected = errors.New("store has no listener")

var _ google.Store = (*Store)(nil)

type OutcomeKind uint8

const (
	OutcomeSucceed OutcomeKind = iota
	OutcomeFail
	OutcomeDefer
)

// Outcome scripts how a purchase of a product resolves.
type Outcome struct {
	Kind    OutcomeKind
	Reason  model.PurchaseFailureReason
	Message string
}

type fetchFailure struct {
	reason  model.ProductFetchFailureReason
	message string
}

// Store is a simulated native store. It serves a fixed catalog and reports
// every outcome asynchronously, on its own goroutine, like a real binding.
type Store struct {
	log  *zap.Logger
	name string

	mu            sync.Mutex
	listener      native.Listener
	subscriptions google.Listener
	catalog       map[string]model.ProductMetadata
	fetchFailures []fetchFailure
	outcomes      map[string]Outcome
	pending       map[string]*model.PendingOrder
	owned         map[string]struct{}
	fetchCalls    int
}

func NewStore(log *zap.Logger, name string, catalog map[string]model.ProductMetadata) *Store {
	products := make(map[string]model.ProductMetadata, len(catalog))
	for id, metadata := range catalog {
		products[id] = metadata
	}

	return &Store{
		log:      log.With(zap.String("native_store", name)),
		name:     name,
		catalog:  products,
		outcomes: make(map[string]Outcome),
		pending:  make(map[string]*model.PendingOrder),
		owned:    make(map[string]struct{}),
	}
}

func (s *Store) Name() string {
	return s.name
}

func (s *Store) Connect(l native.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listener = l
}

// ConnectSubscriptions makes the store usable as a Google Play store with
// subscription changes.
func (s *Store) ConnectSubscriptions(l google.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions = l
}

// FailNextFetch makes the next product fetch fail. Calls queue up.
func (s *Store) FailNextFetch(reason model.ProductFetchFailureReason, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetchFailures = append(s.fetchFailures, fetchFailure{reason: reason, message: message})
}

// SetOutcome scripts how purchases of the product resolve.
func (s *Store) SetOutcome(storeSpecificID string, outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcomes[storeSpecificID] = outcome
}

func (s *Store) FetchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.fetchCalls
}

func (s *Store) FetchProducts(definitions []*model.ProductDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.connected()
	if err != nil {
		return err
	}
	s.fetchCalls++

	if len(s.fetchFailures) > 0 {
		f := s.fetchFailures[0]
		s.fetchFailures = s.fetchFailures[1:]
		go l.OnProductsRetrieveFailed(f.reason, f.message)
		return nil
	}

	var descriptions []*model.ProductDescription
	for _, def := range definitions {
		metadata, ok := s.catalog[def.StoreSpecificID]
		if !ok {
			continue
		}
		descriptions = append(descriptions, &model.ProductDescription{
			StoreSpecificID: def.StoreSpecificID,
			Metadata:        metadata,
		})
	}

	go l.OnProductsRetrieved(descriptions)
	return nil
}

func (s *Store) Purchase(cart *model.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.connected()
	if err != nil {
		return err
	}

	product := cart.FirstProduct()
	if product == nil {
		return errors.New("cart has no product")
	}

	outcome := s.outcomes[product.StoreSpecificID()]
	info := &model.OrderInfo{
		TransactionID: model.MustGenerateTransactionID(),
		StoreName:     s.name,
	}
	info.Receipt = fakeReceipt(s.name, info.TransactionID)

	switch outcome.Kind {
	case OutcomeFail:
		go l.OnPurchaseFailed(&model.FailedOrder{
			Cart:    cart,
			Info:    info,
			Reason:  outcome.Reason,
			Message: outcome.Message,
		})
	case OutcomeDefer:
		go l.OnPurchaseDeferred(&model.DeferredOrder{Cart: cart, Info: info})
	default:
		order := &model.PendingOrder{Cart: cart, Info: info}
		s.pending[info.TransactionID] = order
		go l.OnPurchaseSucceeded(order)
	}
	return nil
}

func (s *Store) FinishTransaction(order *model.PendingOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.connected()
	if err != nil {
		return err
	}

	transactionID := model.TransactionIDOf(order)
	if _, ok := s.pending[transactionID]; !ok {
		go l.OnConfirmOrderFailed(&model.FailedOrder{
			Cart:    order.Cart,
			Info:    order.Info,
			Reason:  model.PurchaseFailureUnknown,
			Message: "unknown transaction",
		}, transactionID)
		return nil
	}

	delete(s.pending, transactionID)
	for _, item := range order.Cart.Items {
		if item.Product.Definition.Type != model.ProductTypeConsumable {
			s.owned[item.Product.StoreSpecificID()] = struct{}{}
		}
	}

	go l.OnConfirmOrderSucceeded(transactionID)
	return nil
}

func (s *Store) CheckEntitlement(definition *model.ProductDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.connected()
	if err != nil {
		return err
	}

	status := model.EntitlementNotEntitled
	if _, ok := s.owned[definition.StoreSpecificID]; ok {
		status = model.EntitlementEntitled
	}

	go l.OnCheckEntitlement(definition, status, "")
	return nil
}

// ChangeSubscription resolves like a purchase of newProduct, scripted with
// SetOutcome. The current product is no longer owned once the change goes
// through.
func (s *Store) ChangeSubscription(currentOrder model.Order, newProduct *model.Product, mode google.ReplacementMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.subscriptions
	if l == nil {
		return ErrNotConnected
	}

	id := newProduct.StoreSpecificID()
	cart := model.NewSingleItemCart(newProduct, 1)
	info := &model.OrderInfo{
		TransactionID: model.MustGenerateTransactionID(),
		StoreName:     s.name,
	}
	info.Receipt = fakeReceipt(s.name, info.TransactionID)

	s.log.Debug("Changing subscription", zap.String("product_id", id), zap.Stringer("mode", mode))

	outcome := s.outcomes[id]
	switch outcome.Kind {
	case OutcomeFail:
		go l.OnSubscriptionChangeFailed(id, &model.FailedOrder{
			Cart:    cart,
			Info:    info,
			Reason:  outcome.Reason,
			Message: outcome.Message,
		})
	case OutcomeDefer:
		go l.OnSubscriptionChangeDeferred(id, &model.DeferredOrder{Cart: cart, Info: info})
	default:
		if currentOrder != nil {
			if current := currentOrder.GetCart().FirstProduct(); current != nil {
				delete(s.owned, current.StoreSpecificID())
			}
		}
		order := &model.PendingOrder{Cart: cart, Info: info}
		s.pending[info.TransactionID] = order
		go l.OnSubscriptionChangeSucceeded(id, order)
	}
	return nil
}

func (s *Store) connected() (native.Listener, error) {
	if s.listener == nil {
		return nil, ErrNotConnected
	}
	return s.listener, nil
}

func fakeReceipt(storeName, transactionID string) string {
	return `{"Store":"` + storeName + `","TransactionID":"` + transactionID + `"}`
}
