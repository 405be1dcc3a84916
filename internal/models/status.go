package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrIllegalTransition = errors.New("illegal order transition")
)

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderPaid, OrderFailed, OrderCanceled, OrderExpired:
		return true
	}
	return false
}

func (s OrderStatus) Valid() bool {
	return s == OrderPending || s.IsTerminal()
}

// CanTransition reports whether an order may move from one status to
// another. Only pending orders move, and only into a terminal status.
func CanTransition(from, to OrderStatus) bool {
	return from == OrderPending && to.IsTerminal()
}

// CheckTransition classifies a requested transition against the stored
// status. It returns applied=false with a nil error when the stored status
// already equals the target, which is how a repeated "paid" is absorbed.
func CheckTransition(current, to OrderStatus) (apply bool, err error) {
	if current == to && current.IsTerminal() {
		return false, nil
	}
	if !CanTransition(current, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, to)
	}
	return true, nil
}
