package cache

import (
	"testing"

	"slide_analyzer/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupRedis_NoHostDisablesCache(t *testing.T) {
	client, err := SetupRedis(&config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestSetupRedis_InvalidDB(t *testing.T) {
	_, err := SetupRedis(&config.RedisConfig{Host: "localhost", Port: "6379", RedisDB: "zero"})
	assert.ErrorContains(t, err, "REDIS_DB")
}
