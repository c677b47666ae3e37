package service

import "errors"

// ErrAlertNotFound is returned when an action targets an alert that is not in
// the current history.
var ErrAlertNotFound = errors.New("alert not found")
