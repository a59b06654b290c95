package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcceptEntity_AllowListed(t *testing.T) {
	set := NewEntitySet(BuiltinAllowList)
	assert.True(t, set.AcceptEntity("preferences"))
	assert.True(t, set.AcceptEntity("user.name"))
}

func TestAcceptEntity_TitlecasePattern(t *testing.T) {
	set := NewEntitySet(nil)
	assert.True(t, set.AcceptEntity("Acme"))
	assert.True(t, set.AcceptEntity("Acme.division"))
}

func TestAcceptEntity_RejectsLowercaseNotAllowlisted(t *testing.T) {
	set := NewEntitySet(nil)
	assert.False(t, set.AcceptEntity("randomthing"))
}

func TestAcceptEntity_DenySetOverridesTitlecase(t *testing.T) {
	set := NewEntitySet(BuiltinAllowList)
	assert.False(t, set.AcceptEntity("The"))
	assert.False(t, set.AcceptEntity("They"))
}

func TestAcceptEntity_LengthBounds(t *testing.T) {
	set := NewEntitySet(BuiltinAllowList)
	assert.False(t, set.AcceptEntity("A"))
	assert.False(t, set.AcceptEntity(strings.Repeat("A", 61)))
}

func TestExtractFacts_BasicColonShape(t *testing.T) {
	set := NewEntitySet(BuiltinAllowList)
	facts := ExtractFacts("user.favorite_drink: coffee", set)
	if assert.Len(t, facts, 1) {
		assert.Equal(t, "user", facts[0].Entity)
		assert.Equal(t, "favorite_drink", facts[0].Key)
		assert.Equal(t, "coffee", facts[0].Value)
	}
}

func TestExtractFacts_EqualsAndIsShapes(t *testing.T) {
	set := NewEntitySet(BuiltinAllowList)
	facts := ExtractFacts("project.status = in_progress\nuser.timezone is PST", set)
	assert.Len(t, facts, 2)
}

func TestExtractFacts_RejectsUnknownEntity(t *testing.T) {
	set := NewEntitySet(nil)
	facts := ExtractFacts("randomthing.key: value", set)
	assert.Empty(t, facts)
}

func TestExtractFacts_RejectsOverlongValue(t *testing.T) {
	set := NewEntitySet(BuiltinAllowList)
	long := strings.Repeat("x", 201)
	facts := ExtractFacts("user.bio: "+long, set)
	assert.Empty(t, facts)
}

func TestExtractFacts_NaturalLanguageSentence(t *testing.T) {
	set := NewEntitySet(BuiltinAllowList)
	facts := ExtractFacts("Kevin prefers TypeScript for new services", set)
	if assert.Len(t, facts, 1) {
		assert.Equal(t, "kevin", facts[0].Entity)
		assert.Equal(t, "prefers", facts[0].Key)
		assert.Equal(t, "TypeScript for new services", facts[0].Value)
	}
}

func TestExtractFacts_NaturalLanguageMultiWordVerb(t *testing.T) {
	set := NewEntitySet(BuiltinAllowList)
	facts := ExtractFacts("Priya lives in Toronto", set)
	if assert.Len(t, facts, 1) {
		assert.Equal(t, "priya", facts[0].Entity)
		assert.Equal(t, "lives_in", facts[0].Key)
		assert.Equal(t, "Toronto", facts[0].Value)
	}
}

func TestExtractFacts_NaturalLanguageRejectsDenylistedSubject(t *testing.T) {
	set := NewEntitySet(BuiltinAllowList)
	facts := ExtractFacts("It uses async standups", set)
	assert.Empty(t, facts)
}

func TestTopicSignature_ShortInputAbsent(t *testing.T) {
	_, ok := TopicSignature("too short")
	assert.False(t, ok)
}

func TestTopicSignature_StableAndSorted(t *testing.T) {
	text := "The deployment pipeline keeps failing because the deployment configuration changed recently and deployment logs show errors"
	sig, ok := TopicSignature(text)
	assert.True(t, ok)
	again, _ := TopicSignature(text)
	assert.Equal(t, sig, again)
	tokens := strings.Split(sig, ",")
	sorted := append([]string(nil), tokens...)
	assert.IsIncreasing(t, sorted)
}

func TestTopicSignature_DropsStopwordsAndShortTokens(t *testing.T) {
	text := "the and for are but not you all can had her was one our out day get has him his how"
	_, ok := TopicSignature(text)
	assert.False(t, ok)
}
