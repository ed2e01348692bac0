package model

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseExpertise(t *testing.T) {
	assert.Equal(t, ExpertiseExpert, ParseExpertise("Expert"))
	assert.Equal(t, ExpertiseIntermediate, ParseExpertise(" intermediate "))
	assert.Equal(t, ExpertiseBeginner, ParseExpertise(""))
	assert.Equal(t, ExpertiseBeginner, ParseExpertise("wizard"))
}

func TestUserContext_Defaults(t *testing.T) {
	uc := NewUserContext("", "")
	assert.Equal(t, "unknown", uc.UserID())
	assert.Equal(t, ExpertiseBeginner, uc.ExpertiseLevel())
	assert.False(t, uc.SessionStart().IsZero())
}

func TestUserContext_RecordRequestConcurrent(t *testing.T) {
	uc := NewUserContext("u1", ExpertiseExpert)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			uc.RecordRequest(10)
		}()
	}
	wg.Wait()
	uc.RecordRequest(-5)

	snap := uc.Snapshot()
	assert.Equal(t, 51, snap.RequestCount)
	assert.Equal(t, 500, snap.TokenCount)
	assert.Equal(t, "u1", snap.UserID)
}

func TestUserContext_SetExpertiseLevel(t *testing.T) {
	uc := NewUserContext("u1", ExpertiseBeginner)

	assert.False(t, uc.SetExpertiseLevel(""))
	assert.False(t, uc.SetExpertiseLevel(ExpertiseBeginner))
	assert.True(t, uc.SetExpertiseLevel(ExpertiseExpert))
	assert.Equal(t, ExpertiseExpert, uc.ExpertiseLevel())
}

func TestConversation_CloneIsIndependent(t *testing.T) {
	conv := Conversation{SystemMessage("a"), UserMessage("b")}
	cp := conv.Clone()
	cp[0] = UserMessage("changed")

	assert.Equal(t, RoleSystem, conv[0].Role)
	assert.Equal(t, 1, conv.CountRole(RoleSystem))
	assert.True(t, conv.Equal(Conversation{SystemMessage("a"), UserMessage("b")}))
	assert.Error(t, Conversation{{Role: "tool", Content: "x"}}.Validate())
}
