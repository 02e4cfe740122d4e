package processor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/talentqueue/jobqueue/internal/queue/model"
	"github.com/talentqueue/jobqueue/internal/queue/processor"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := processor.NewRegistry()
	p := processor.NewResumeProcessingProcessor(stubResumeParser{})
	reg.Register(p)

	found, ok := reg.Lookup(model.JobTypeResumeProcessing)
	require := assert.New(t)
	require.True(ok)
	require.Equal(p, found)
}

func TestRegistryLookupMissingReturnsFalse(t *testing.T) {
	reg := processor.NewRegistry()
	_, ok := reg.Lookup("SOMETHING_ELSE")
	assert.False(t, ok)
}
