package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewParsesLevel(t *testing.T) {
	log := New("debug").(*logrus.Logger)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
}

func TestNewFallsBackToInfoOnUnparseableLevel(t *testing.T) {
	log := New("not-a-level").(*logrus.Logger)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}
