package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveSocketURL(t *testing.T) {
	assert.Equal(t, "wss://api.example.com/socket", deriveSocketURL("https://api.example.com"))
	assert.Equal(t, "ws://localhost:8080/socket", deriveSocketURL("http://localhost:8080"))
}
