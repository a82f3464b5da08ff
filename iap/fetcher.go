package iap

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/code-payments/flipchat-iap/catalog"
	"github.com/code-payments/flipchat-iap/correlation"
	"github.com/code-payments/flipchat-iap/dispatch"
	"github.com/code-payments/flipchat-iap/failure"
	"github.com/code-payments/flipchat-iap/model"
	"github.com/code-payments/flipchat-iap/native"
	"github.com/code-payments/flipchat-iap/retry"
)

const (
	fetchOp = "iap.FetchProducts"

	// Only one fetch may be in flight per store, whatever it asks for.
	fetchKey = "fetch"

	PartialFetchMessage = "FetchProducts succeeded, but could not retrieve the attached subset of products"
	FailedFetchMessage  = "FetchProducts failed, and could not retrieve any products"
	TimedOutMessage     = "request timed out"
)

// FetchFailure lists the requested definitions that could not be retrieved.
type FetchFailure struct {
	Definitions []*model.ProductDefinition
	Reason      model.ProductFetchFailureReason
	Message     string
}

type fetchRequest struct {
	ctx         context.Context
	cancel      context.CancelFunc
	definitions []*model.ProductDefinition
	onSuccess   func([]*model.Product)
	onFailure   func(*FetchFailure)
	policy      retry.Policy
	info        *retry.Info

	// awaiting is set while the store owes an answer for the last dispatch.
	awaiting bool
}

// ProductFetcher retrieves product metadata from a store, retrying failed
// fetches as allowed by the caller's policy.
type ProductFetcher struct {
	log      *zap.Logger
	store    native.Store
	exec     dispatch.Executor
	products *catalog.Cache
	requests *correlation.Registry[string, *fetchRequest]
	evicted  *correlation.Debts[string]
}

func NewProductFetcher(
	log *zap.Logger,
	store native.Store,
	exec dispatch.Executor,
	products *catalog.Cache,
	timeout time.Duration,
	opts ...correlation.Option,
) *ProductFetcher {
	return &ProductFetcher{
		log:      log.With(zap.String("orchestrator", "fetch")),
		store:    store,
		exec:     exec,
		products: products,
		requests: correlation.NewRegistry[string, *fetchRequest](fetchOp, timeout, opts...),
		evicted:  correlation.NewDebts[string](),
	}
}

// FetchProducts asks the store for the given definitions. It fails
// immediately if a fetch is already in progress or nothing was requested.
// Otherwise onSuccess is eventually called with the retrieved subset, even if
// it is empty, and onFailure is called as well for anything that could not be
// retrieved. ctx bounds the waits performed by the retry policy, which are
// also cut short once the fetch resolves or is evicted. A nil ctx means no
// bound, and a nil policy means no retries.
func (f *ProductFetcher) FetchProducts(
	ctx context.Context,
	definitions []*model.ProductDefinition,
	onSuccess func([]*model.Product),
	onFailure func(*FetchFailure),
	policy retry.Policy,
) error {
	if f.requests.Contains(fetchKey) {
		return failure.New(failure.KindDuplicateRequest, fetchOp, "fetch already in progress")
	}
	if len(definitions) == 0 {
		return failure.New(failure.KindInvalidArgument, fetchOp, "no product definitions to fetch")
	}
	if onSuccess == nil || onFailure == nil {
		return failure.New(failure.KindInvalidArgument, fetchOp, "fetch callbacks are required")
	}
	if policy == nil {
		policy = retry.NoRetries()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithCancel(ctx)
	req := &fetchRequest{
		ctx:         ctx,
		cancel:      cancel,
		definitions: definitions,
		onSuccess:   onSuccess,
		onFailure:   onFailure,
		policy:      policy,
		info:        retry.NewInfo(),
	}
	if err := f.requests.Register(fetchKey, req); err != nil {
		cancel()
		return err
	}

	f.log.Debug("Fetching products", zap.Int("num_definitions", len(definitions)))
	f.dispatch(req)
	return nil
}

// InProgress reports whether a fetch is outstanding.
func (f *ProductFetcher) InProgress() bool {
	return f.requests.Contains(fetchKey)
}

func (f *ProductFetcher) dispatch(req *fetchRequest) {
	if err := f.store.FetchProducts(req.definitions); err != nil {
		f.log.Warn("Failed to dispatch product fetch", zap.Error(err))
		f.retryOrFail(req, model.ProductFetchFailureUnknown, err.Error())
		return
	}
	req.awaiting = true
}

func (f *ProductFetcher) OnProductsRetrieved(descriptions []*model.ProductDescription) {
	if f.evicted.Settle(fetchKey) {
		f.log.Debug("Dropping product retrieval for an evicted fetch", zap.Int("num_descriptions", len(descriptions)))
		return
	}

	req, ok := f.requests.Resolve(fetchKey)
	if !ok {
		f.log.Warn("Dropping orphaned product retrieval", zap.Int("num_descriptions", len(descriptions)))
		return
	}
	req.cancel()

	requested := make(map[string]*model.ProductDefinition, len(req.definitions))
	for _, def := range req.definitions {
		requested[def.StoreSpecificID] = def
	}

	matched := make(map[string]struct{}, len(descriptions))
	products := make([]*model.Product, 0, len(descriptions))
	for _, desc := range descriptions {
		if desc == nil {
			continue
		}
		def, ok := requested[desc.StoreSpecificID]
		if !ok {
			continue
		}
		if _, ok := matched[def.StoreSpecificID]; ok {
			continue
		}
		matched[def.StoreSpecificID] = struct{}{}
		products = append(products, model.NewProduct(def, desc))
	}

	var unmatched []*model.ProductDefinition
	for _, def := range req.definitions {
		if _, ok := matched[def.StoreSpecificID]; !ok {
			unmatched = append(unmatched, def)
		}
	}

	if f.products != nil {
		f.products.Put(products...)
	}

	f.log.Debug("Products retrieved", zap.Int("num_products", len(products)), zap.Int("num_missing", len(unmatched)))
	req.onSuccess(products)

	if len(unmatched) == 0 {
		return
	}

	message := PartialFetchMessage
	if len(products) == 0 {
		message = FailedFetchMessage
	}
	req.onFailure(&FetchFailure{
		Definitions: unmatched,
		Reason:      model.ProductFetchFailureProductsUnavailable,
		Message:     message,
	})
}

func (f *ProductFetcher) OnProductsRetrieveFailed(reason model.ProductFetchFailureReason, message string) {
	if f.evicted.Settle(fetchKey) {
		f.log.Debug("Dropping product retrieval failure for an evicted fetch", zap.Stringer("reason", reason))
		return
	}

	req, ok := f.requests.Peek(fetchKey)
	if !ok {
		f.log.Warn("Dropping orphaned product retrieval failure", zap.Stringer("reason", reason), zap.String("message", message))
		return
	}
	req.awaiting = false
	f.retryOrFail(req, reason, message)
}

// retryOrFail consults the request's policy away from the executor, since the
// policy may wait, and reports the verdict back on the executor. The request
// keeps its slot while the policy decides.
func (f *ProductFetcher) retryOrFail(req *fetchRequest, reason model.ProductFetchFailureReason, message string) {
	req.info.Attempts++
	attempts := req.info.Attempts

	go func() {
		shouldRetry := req.policy.ShouldRetry(req.ctx, req.info)
		f.exec.Post(func() {
			f.onRetryDecision(req, shouldRetry, attempts, reason, message)
		})
	}()
}

func (f *ProductFetcher) onRetryDecision(req *fetchRequest, shouldRetry bool, attempts int, reason model.ProductFetchFailureReason, message string) {
	if current, ok := f.requests.Peek(fetchKey); !ok || current != req {
		f.log.Debug("Dropping retry decision for a fetch that is no longer outstanding")
		return
	}

	log := f.log.With(zap.Int("attempts", attempts), zap.Stringer("reason", reason))

	if shouldRetry {
		log.Debug("Retrying product fetch")
		f.dispatch(req)
		return
	}

	log.Warn("Product fetch failed", zap.String("message", message))
	f.requests.Abandon(fetchKey, req)
	req.cancel()

	if message == "" {
		message = reason.String()
	}
	req.onFailure(&FetchFailure{
		Definitions: req.definitions,
		Reason:      reason,
		Message:     message,
	})
}

// Sweep fails a fetch that has been outstanding for longer than the timeout.
// If the store still owes an answer for it, that answer is dropped when it
// arrives.
func (f *ProductFetcher) Sweep(now time.Time) {
	for _, expired := range f.requests.Expire(now) {
		f.log.Warn("Product fetch timed out")

		req := expired.Request
		req.cancel()
		if req.awaiting {
			f.evicted.Owe(fetchKey)
		}
		req.onFailure(&FetchFailure{
			Definitions: req.definitions,
			Reason:      model.ProductFetchFailureTimeout,
			Message:     TimedOutMessage,
		})
	}
}
