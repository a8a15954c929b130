//go:build !cgo

package driver

import "errors"

func newKuzuBackend(string) (Backend, error) {
	return nil, errors.New("kuzu: backend requires a cgo-enabled build")
}
