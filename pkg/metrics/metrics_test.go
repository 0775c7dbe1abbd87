package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRegistryCreatesLazily(t *testing.T) {
	r := GetRegistry()
	require.NotNil(t, r)
	assert.Same(t, r, GetRegistry())
}

func TestInitRegistryEnablesAndIsIdempotent(t *testing.T) {
	first := InitRegistry()
	require.NotNil(t, first)
	assert.True(t, IsEnabled())
	assert.Same(t, first, InitRegistry())
}

type fakeRestoreMetrics struct {
	messages []string
}

func (f *fakeRestoreMetrics) RecordMessage(msgType string, duration time.Duration, errorCode string) {
	f.messages = append(f.messages, msgType)
}
func (f *fakeRestoreMetrics) RecordDataRequest(dataType string, duration time.Duration, errorCode string) {
}
func (f *fakeRestoreMetrics) RecordProgress(stage string, percent int)     {}
func (f *fakeRestoreMetrics) RecordStatus(statusCode int64)                {}
func (f *fakeRestoreMetrics) SetSessionState(state string)                 {}
func (f *fakeRestoreMetrics) RecordSessionOutcome(outcome string, duration time.Duration) {}

func TestNewRestoreMetricsUsesRegisteredConstructor(t *testing.T) {
	instance := &fakeRestoreMetrics{}
	RegisterRestoreMetricsConstructor(func() RestoreMetrics { return instance })
	defer RegisterRestoreMetricsConstructor(nil)

	InitRegistry()
	m := NewRestoreMetrics()
	require.NotNil(t, m)
	m.RecordMessage("DataRequestMsg", time.Millisecond, "")
	assert.Equal(t, []string{"DataRequestMsg"}, instance.messages)
}

type fakeArchiveMetrics struct {
	hits int
}

func (f *fakeArchiveMetrics) RecordRead(source string, bytes int64, duration time.Duration, errorCode string) {
}
func (f *fakeArchiveMetrics) RecordCacheHit(cacheType string)  { f.hits++ }
func (f *fakeArchiveMetrics) RecordCacheMiss(cacheType string) {}
func (f *fakeArchiveMetrics) RecordS3Operation(operation string, duration time.Duration, err error) {
}

func TestNewArchiveMetricsUsesRegisteredConstructor(t *testing.T) {
	instance := &fakeArchiveMetrics{}
	RegisterArchiveMetricsConstructor(func() ArchiveMetrics { return instance })
	defer RegisterArchiveMetricsConstructor(nil)

	InitRegistry()
	m := NewArchiveMetrics()
	require.NotNil(t, m)
	m.RecordCacheHit("directory")
	assert.Equal(t, 1, instance.hits)
}
