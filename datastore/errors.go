package datastore

import "fmt"

// The store could not be opened or a transaction failed. The caller
// abandons the operation for this cycle.
type StoreUnavailable struct {
	Op  string
	Err error
}

func (self *StoreUnavailable) Error() string {
	return fmt.Sprintf("StoreUnavailable: %v: %v", self.Op, self.Err)
}

func (self *StoreUnavailable) Unwrap() error {
	return self.Err
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*StoreUnavailable); ok {
		return err
	}
	return &StoreUnavailable{Op: op, Err: err}
}

func errUnknownDatabase(db string) error {
	return fmt.Errorf("unknown database %v", db)
}

func errUnknownStore(store string) error {
	return fmt.Errorf("unknown store %v", store)
}
