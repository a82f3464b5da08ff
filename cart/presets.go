package cart

const (
	StoreGooglePlay = "GooglePlay"
	StoreAppleApp   = "AppleAppStore"
	StoreAmazon     = "AmazonAppStore"
	StoreFake       = "FakeStore"
)

// ForStore returns the validation pipeline used when purchasing from the named
// store. NonNull always runs first so later validators can assume a well
// formed cart.
func ForStore(storeName string) Validator {
	var validators []Validator
	switch storeName {
	case StoreGooglePlay, StoreAppleApp:
		validators = []Validator{NonNull(), SingleProduct(), MultipleConsumableQuantity()}
	case StoreAmazon:
		validators = []Validator{NonNull(), SingleProduct(), SingleQuantity()}
	default:
		validators = []Validator{NonNull(), DistinctProducts(), MultipleConsumableQuantity()}
	}
	return StoreScoped(storeName, Aggregate(validators...))
}
