package memzero_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cipherroom/internal/domain"
	"cipherroom/internal/util/memzero"
)

func TestZero(t *testing.T) {
	b := []byte{1, 2, 3}
	memzero.Zero(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
	memzero.Zero(nil)
}

func TestValue(t *testing.T) {
	k := domain.X25519Private{1, 2, 3}
	memzero.Value(&k)
	assert.Equal(t, domain.X25519Private{}, k)

	var nilKey *domain.RoomSecret
	memzero.Value(nilKey)
}
