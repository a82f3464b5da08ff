package correlation

// Debts counts answers a native store still owes for requests that were
// evicted before the store replied. A store answers calls for the same key in
// the order they were made, so the next answers for a key in debt belong to
// evicted requests and must not resolve whatever is registered now.
//
// Debts is not safe for concurrent use.
type Debts[K comparable] struct {
	owed map[K]int
}

func NewDebts[K comparable]() *Debts[K] {
	return &Debts[K]{owed: make(map[K]int)}
}

// Owe records one more answer due for key.
func (d *Debts[K]) Owe(key K) {
	d.owed[key]++
}

// Settle consumes an answer due for key, reporting whether one was due.
func (d *Debts[K]) Settle(key K) bool {
	n, ok := d.owed[key]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(d.owed, key)
	} else {
		d.owed[key] = n - 1
	}
	return true
}

// Owed returns the number of answers due for key.
func (d *Debts[K]) Owed(key K) int {
	return d.owed[key]
}
