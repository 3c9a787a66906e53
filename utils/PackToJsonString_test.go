package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackToByteArray(t *testing.T) {
	assert.JSONEq(t, `{"remaining":60,"status":"running"}`,
		string(PackToByteArray(map[string]interface{}{"status": "running", "remaining": 60})))
	assert.Equal(t, `["a","b"]`, string(PackToByteArray([]string{"a", "b"})))
}

func TestPackToByteArrayFallsBackToEmpty(t *testing.T) {
	assert.Empty(t, PackToByteArray(make(chan int)))
}
